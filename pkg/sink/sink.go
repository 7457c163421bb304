// Package sink persists assembled group tables.
package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sinkWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "census_sink_writes_total",
		Help: "Table writes by sink kind and status",
	}, []string{"sink", "status"})

	sinkRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "census_sink_rows_total",
		Help: "Rows written by sink kind",
	}, []string{"sink"})
)

// Sink receives finished tables. Implementations must be safe for
// concurrent use since several group tasks write at once.
type Sink interface {
	Write(ctx context.Context, table *census.Table) error
	Close() error
}

// Kind names a sink implementation.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindCSV      Kind = "csv"
	KindPostgres Kind = "postgres"
	KindDiscard  Kind = "none"
)

// ParseKind validates a sink name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMemory, KindCSV, KindPostgres, KindDiscard:
		return k, nil
	case "discard", "":
		return KindDiscard, nil
	default:
		return "", fmt.Errorf("unknown sink %q (want csv, postgres, memory or none)", s)
	}
}

// observe records the outcome of a write.
func observe(kind Kind, table *census.Table, err error) {
	if err != nil {
		sinkWritesTotal.WithLabelValues(string(kind), "error").Inc()
		return
	}
	sinkWritesTotal.WithLabelValues(string(kind), "ok").Inc()
	sinkRowsTotal.WithLabelValues(string(kind)).Add(float64(table.Len()))
}

// MemorySink keeps tables in memory, keyed by group.
type MemorySink struct {
	mu     sync.Mutex
	tables map[string]*census.Table
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{tables: map[string]*census.Table{}}
}

// Write stores table, replacing any earlier table of the same group.
func (s *MemorySink) Write(ctx context.Context, table *census.Table) error {
	s.mu.Lock()
	s.tables[table.Group] = table
	s.mu.Unlock()
	observe(KindMemory, table, nil)
	return nil
}

// Table returns the stored table of group.
func (s *MemorySink) Table(group string) (*census.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[group]
	return t, ok
}

// Groups returns the stored group names in sorted order.
func (s *MemorySink) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups := make([]string, 0, len(s.tables))
	for g := range s.tables {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Close is a no-op.
func (s *MemorySink) Close() error {
	return nil
}

// DiscardSink drops every table.
type DiscardSink struct{}

// Write discards table.
func (DiscardSink) Write(ctx context.Context, table *census.Table) error {
	observe(KindDiscard, table, nil)
	return nil
}

// Close is a no-op.
func (DiscardSink) Close() error {
	return nil
}
