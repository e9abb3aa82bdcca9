// Package cmd contains the commands of the bulkmap binary.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	dialectFlag = "dialect"
	dsnFlag     = "dsn"
	tableFlag   = "table"
	timeoutFlag = "timeout"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with BULKMAP, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BULKMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, path := range []string{"/etc/bulkmap", "$HOME/.bulkmap", "."} {
		v.AddConfigPath(path)
	}
	_ = v.ReadInConfig()

	root := &cobra.Command{
		Use:   "bulkmap",
		Short: "Inspect how record types map onto bulk-load destination tables",
		Long: `bulkmap inspects destination tables the way the bulkmap library sees them
when it resolves struct properties to column offsets.`,
		SilenceUsage: true,
	}
	root.AddCommand(NewColumnsCommand(v))
	return root
}

// mustBindPFlag binds key to flag and panics if the binding fails.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}
