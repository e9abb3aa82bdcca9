package bulkmap

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// --------------------------------
// Test utilities
// --------------------------------

const testTable = "t"

var testTarget = TargetTable{Table: testTable}

// countingProvider serves a fixed column list and counts fetches.
type countingProvider struct {
	calls atomic.Int32
	cols  []Column
	err   error
	delay time.Duration
}

func (p *countingProvider) Columns(_ context.Context, _ TargetTable) ([]Column, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return append([]Column(nil), p.cols...), nil
}

// buildWith builds the accessor for T against cols using an isolated registry.
func buildWith[T any](t *testing.T, reg *Registry, cols []Column) (*TypeAccessor, error) {
	t.Helper()
	if reg == nil {
		reg = NewRegistry()
	}
	c := NewCache(StaticSchema{testTable: cols}, WithRegistry(reg))
	return Get[T](context.Background(), c, testTarget)
}

// mustBuild is buildWith asserting success.
func mustBuild[T any](t *testing.T, reg *Registry, cols []Column) *TypeAccessor {
	t.Helper()
	ta, err := buildWith[T](t, reg, cols)
	require.NoError(t, err)
	return ta
}

// mustRead reads the column at offset from instance.
func mustRead(t *testing.T, ta *TypeAccessor, offset int, instance any) any {
	t.Helper()
	acc, err := ta.Accessor(offset)
	require.NoError(t, err)
	v, err := acc(instance)
	require.NoError(t, err)
	return v
}

// countDiagnostics counts the diagnostics of kind recorded on ta.
func countDiagnostics(ta *TypeAccessor, kind DiagnosticKind) int {
	n := 0
	for _, d := range ta.Diagnostics() {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

func ptr[T any](v T) *T { return &v }
