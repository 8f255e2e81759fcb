// Package mock provides an in-memory test double for [journal.Querier].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/systemd-mcp/internal/journal"
)

// Query records the arguments of a single Query invocation.
type Query struct {
	Unit  string
	Lines int
}

// Querier is a configurable test double for [journal.Querier]. It is safe
// for concurrent use.
type Querier struct {
	mu      sync.Mutex
	queries []Query

	// Output is returned by Query when Err is nil.
	Output string

	// Err is returned by Query when non-nil.
	Err error
}

var _ journal.Querier = (*Querier)(nil)

// Query implements [journal.Querier].
func (q *Querier) Query(_ context.Context, unit string, lines int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, Query{Unit: unit, Lines: lines})
	if q.Err != nil {
		return "", q.Err
	}
	return q.Output, nil
}

// Queries returns a copy of all recorded invocations.
func (q *Querier) Queries() []Query {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Query, len(q.queries))
	copy(out, q.queries)
	return out
}
