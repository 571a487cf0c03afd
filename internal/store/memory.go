package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and the seeder's dry-run mode.
// It applies the same filter semantics as the Postgres implementation.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Row
	failErr     error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Row)}
}

// SetFailure makes every subsequent operation return err. Pass nil to clear.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Memory) Query(ctx context.Context, collection string, q Query) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	var out []Row
	for _, row := range m.collections[collection] {
		ok, err := matches(collection, row, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cloneRow(row))
		}
	}
	if q.OrderBy != "" {
		field := q.OrderBy
		sort.SliceStable(out, func(i, j int) bool {
			ti, _ := out[i].TimeValue(field)
			tj, _ := out[j].TimeValue(field)
			if q.Desc {
				return ti.After(tj)
			}
			return ti.Before(tj)
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, collection string, filters []Filter) (int64, error) {
	rows, err := m.Query(ctx, collection, Query{Filters: filters})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (m *Memory) GroupCount(ctx context.Context, collection string, filters []Filter, groupField string) (map[string]int64, error) {
	if !ValidField(collection, groupField) {
		return nil, fmt.Errorf("unknown group field %q on %s", groupField, collection)
	}
	rows, err := m.Query(ctx, collection, Query{Filters: filters})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, row := range rows {
		counts[row.StringValue(groupField)]++
	}
	return counts, nil
}

func (m *Memory) Insert(ctx context.Context, collection string, record Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	for field := range record {
		if !ValidField(collection, field) {
			return nil, fmt.Errorf("unknown field %q on %s", field, collection)
		}
	}
	row := cloneRow(record)
	m.collections[collection] = append(m.collections[collection], row)
	return cloneRow(row), nil
}

func (m *Memory) Update(ctx context.Context, collection string, filters []Filter, patch Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if !ValidCollection(collection) {
		return fmt.Errorf("unknown collection %q", collection)
	}
	for _, row := range m.collections[collection] {
		ok, err := matches(collection, row, filters)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for field, value := range patch {
			if !ValidField(collection, field) {
				return fmt.Errorf("unknown field %q on %s", field, collection)
			}
			row[field] = value
		}
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection string, filters []Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if !ValidCollection(collection) {
		return fmt.Errorf("unknown collection %q", collection)
	}
	if len(filters) == 0 {
		return fmt.Errorf("deleting from %s: refusing unfiltered delete", collection)
	}
	kept := m.collections[collection][:0]
	for _, row := range m.collections[collection] {
		ok, err := matches(collection, row, filters)
		if err != nil {
			return err
		}
		if !ok {
			kept = append(kept, row)
		}
	}
	m.collections[collection] = kept
	return nil
}

func matches(collection string, row Row, filters []Filter) (bool, error) {
	for _, f := range filters {
		if !ValidField(collection, f.Field) {
			return false, fmt.Errorf("unknown field %q on %s", f.Field, collection)
		}
		value, present := row[f.Field]
		switch f.Op {
		case OpEq:
			if !present || value != f.Value {
				return false, nil
			}
		case OpIn:
			vals, ok := f.Value.([]string)
			if !ok {
				return false, fmt.Errorf("in-filter on %s.%s requires []string", collection, f.Field)
			}
			s, _ := value.(string)
			found := false
			for _, v := range vals {
				if v == s {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case OpLt:
			t, ok := row.TimeValue(f.Field)
			bound, bok := timeArg(f.Value)
			if !ok || !bok || !t.Before(bound) {
				return false, nil
			}
		case OpGte:
			t, ok := row.TimeValue(f.Field)
			bound, bok := timeArg(f.Value)
			if !ok || !bok || t.Before(bound) {
				return false, nil
			}
		case OpIsNull:
			if present && value != nil {
				return false, nil
			}
		case OpNotNull:
			if !present || value == nil {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported filter op %d", f.Op)
		}
	}
	return true, nil
}

func timeArg(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
