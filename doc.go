// Package bulkmap derives, for a Go struct type and a destination table, the set of compiled column accessors a bulk loader needs: it walks the struct's property graph breadth-first, reconciles `db` tag declarations and registry overrides against the table's schema (falling back to matching column names when nothing is declared), settles offset conflicts, and compiles one pure read function per column, built once per (type, table) and shared by every producer goroutine.

package bulkmap
