package bulkmap

import (
	"fmt"

	"go.uber.org/zap"
)

// DiagnosticKind classifies a non-fatal condition met while building a
// TypeAccessor.
type DiagnosticKind uint8

const (
	CycleTruncated     DiagnosticKind = iota // a self-referencing branch was not expanded
	OptionalDropped                          // an Optional mapping did not match the schema
	DuplicateDiscarded                       // a mapping lost a column offset conflict
	FallbackApplied                          // a mapping was synthesized from the schema
)

func (k DiagnosticKind) String() string {
	switch k {
	case CycleTruncated:
		return "cycle-truncated"
	case OptionalDropped:
		return "optional-dropped"
	case DuplicateDiscarded:
		return "duplicate-discarded"
	case FallbackApplied:
		return "fallback-applied"
	default:
		return "unknown"
	}
}

// Diagnostic records a condition that was reconciled silently.
type Diagnostic struct {
	Kind    DiagnosticKind
	Path    string
	Offset  int
	Message string
}

func (d Diagnostic) String() string {
	if d.Offset >= 0 {
		return fmt.Sprintf("%s %s@%d: %s", d.Kind, d.Path, d.Offset, d.Message)
	}
	return fmt.Sprintf("%s %s: %s", d.Kind, d.Path, d.Message)
}

// diagnostics collects Diagnostics and mirrors them to the debug log.
type diagnostics struct {
	logger *zap.Logger
	list   []Diagnostic
}

func (d *diagnostics) add(kind DiagnosticKind, path string, offset int, format string, args ...any) {
	diag := Diagnostic{Kind: kind, Path: path, Offset: offset, Message: fmt.Sprintf(format, args...)}
	d.list = append(d.list, diag)
	if d.logger != nil {
		d.logger.Debug("bulkmap diagnostic",
			zap.Stringer("kind", kind),
			zap.String("path", path),
			zap.Int("offset", offset),
			zap.String("message", diag.Message),
		)
	}
}

// count returns how many diagnostics of the given kind were recorded.
func (d *diagnostics) count(kind DiagnosticKind) int {
	n := 0
	for _, x := range d.list {
		if x.Kind == kind {
			n++
		}
	}
	return n
}
