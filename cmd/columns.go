package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gandaldf/bulkmap"
)

// NewColumnsCommand returns the command printing a table's columns with the
// offsets mappings resolve to.
func NewColumnsCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "Print the columns of a destination table with their offsets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runColumns(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String(dialectFlag, "", "(required) database dialect: postgres, mysql or sqlite")
	flags.String(dsnFlag, "", "(required) connection string of the database")
	flags.String(tableFlag, "", "(required) destination table, optionally schema-qualified")
	flags.Duration(timeoutFlag, 30*time.Second, "how long to wait for the database to answer")

	cmd.PreRun = func(cmd *cobra.Command, _ []string) {
		for _, name := range []string{dialectFlag, dsnFlag, tableFlag, timeoutFlag} {
			mustBindPFlag(v, name, flags.Lookup(name))
		}
	}
	return cmd
}

func runColumns(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()

	dialect, err := bulkmap.ParseDialect(v.GetString(dialectFlag))
	if err != nil {
		return err
	}
	dsn := v.GetString(dsnFlag)
	if dsn == "" {
		return fmt.Errorf("missing --%s", dsnFlag)
	}
	table := v.GetString(tableFlag)
	if table == "" {
		return fmt.Errorf("missing --%s", tableFlag)
	}

	provider, err := bulkmap.OpenSchemaProvider(ctx, dialect, dsn, bulkmap.WithConnectTimeout(v.GetDuration(timeoutFlag)))
	if err != nil {
		return err
	}
	defer provider.Close()

	cols, err := provider.Columns(ctx, bulkmap.TargetTable{Table: table})
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(cmd.OutOrStdout())
	tw.SetHeader([]string{"Offset", "Name", "Writable"})
	for _, c := range cols {
		tw.Append([]string{strconv.Itoa(c.Ordinal), c.Name, strconv.FormatBool(!c.ReadOnly)})
	}
	tw.Render()
	return nil
}
