// Package memory is an in-process backend.Store used in development mode and
// by tests. It mirrors the Postgres schema's defaults and unique indexes so
// services behave the same against either implementation.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mentorship/internal/apperr"
	"mentorship/internal/backend"
	"mentorship/internal/realtime"
)

type uniqueIndex struct {
	columns []string
	where   []backend.Filter
}

// same unique indexes as store/schema.sql
var uniqueIndexes = map[string][]uniqueIndex{
	backend.TableUsers:    {{columns: []string{"email"}}},
	backend.TableProfiles: {{columns: []string{"id"}}},
	backend.TableConnections: {{
		columns: []string{"student_id", "mentor_id"},
		where:   []backend.Filter{backend.In("status", "pending", "accepted")},
	}},
	backend.TableMessages: {{columns: []string{"sender_id", "client_id"}}},
}

func defaults(table string) backend.Record {
	switch table {
	case backend.TableUsers:
		return backend.Record{"email_verified": false}
	case backend.TableProfiles:
		return backend.Record{"rating": float64(0), "doubts_solved": int64(0), "online": false}
	case backend.TableConnections:
		return backend.Record{"status": "pending"}
	}
	return backend.Record{}
}

// Store keeps rows in insertion order per table.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]backend.Record
	broker realtime.Broker
	last   time.Time
	now    func() time.Time
}

// New creates an empty store. Writes are published on broker so Subscribe
// behaves like the Postgres implementation.
func New(broker realtime.Broker) *Store {
	if broker == nil {
		broker = realtime.NewMemory()
	}
	tables := map[string][]backend.Record{}
	for _, t := range []string{backend.TableUsers, backend.TableProfiles, backend.TableConnections, backend.TableMessages} {
		tables[t] = nil
	}
	return &Store{tables: tables, broker: broker, now: time.Now}
}

// stamp returns a strictly increasing timestamp so created_at ordering is total.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) rows(table string) ([]backend.Record, error) {
	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return rows, nil
}

// Query returns matching rows, ordered, limited and projected.
func (s *Store) Query(ctx context.Context, table string, q backend.Query) ([]backend.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.rows(table)
	if err != nil {
		return nil, err
	}

	var out []backend.Record
	for _, row := range rows {
		if backend.Match(row, q.Filters) {
			out = append(out, row.Clone())
		}
	}
	backend.SortRecords(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i, row := range out {
		if q.Join != nil {
			joined, err := s.join(row, q.Join)
			if err != nil {
				return nil, err
			}
			row[q.Join.As] = joined
		}
		out[i] = project(row, q.Columns, q.Join)
	}
	return out, nil
}

func (s *Store) join(row backend.Record, j *backend.Join) (backend.Record, error) {
	rows, err := s.rows(j.Table)
	if err != nil {
		return nil, err
	}
	key := row[j.LocalColumn]
	for _, candidate := range rows {
		if backend.Compare(candidate["id"], key) == 0 {
			return project(candidate.Clone(), j.Columns, nil), nil
		}
	}
	return nil, nil
}

func project(row backend.Record, columns []string, j *backend.Join) backend.Record {
	if len(columns) == 0 {
		return row
	}
	out := make(backend.Record, len(columns)+1)
	for _, c := range columns {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	if j != nil {
		out[j.As] = row[j.As]
	}
	return out
}

// Get returns the first matching row.
func (s *Store) Get(ctx context.Context, table string, q backend.Query) (backend.Record, error) {
	q.Limit = 1
	rows, err := s.Query(ctx, table, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.ErrNotFound
	}
	return rows[0], nil
}

// Insert stores rec after applying column defaults.
func (s *Store) Insert(ctx context.Context, table string, rec backend.Record) (backend.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rows, err := s.rows(table)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	row := defaults(table)
	for k, v := range rec {
		row[k] = v
	}
	if row.String("id") == "" {
		row["id"] = uuid.NewString()
	}
	now := s.stamp()
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = now
	}
	if table == backend.TableMessages {
		if _, ok := row["time"]; !ok {
			row["time"] = now
		}
	}
	if err := checkUnique(table, rows, row, -1); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.tables[table] = append(rows, row)
	out := row.Clone()
	s.mu.Unlock()

	_ = backend.PublishChange(ctx, s.broker, table, backend.EventInsert, out.Clone())
	return out, nil
}

// Update patches every matching row.
func (s *Store) Update(ctx context.Context, table string, filters []backend.Filter, patch backend.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	rows, err := s.rows(table)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	// stage every patch and check the result before committing any of it
	staged := make([]backend.Record, len(rows))
	copy(staged, rows)
	var touched []int
	for i, row := range rows {
		if !backend.Match(row, filters) {
			continue
		}
		next := row.Clone()
		for k, v := range patch {
			next[k] = v
		}
		staged[i] = next
		touched = append(touched, i)
	}
	for _, i := range touched {
		if err := checkUnique(table, staged, staged[i], i); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}
	s.tables[table] = staged
	changed := make([]backend.Record, 0, len(touched))
	for _, i := range touched {
		changed = append(changed, staged[i].Clone())
	}
	s.mu.Unlock()

	for _, row := range changed {
		_ = backend.PublishChange(ctx, s.broker, table, backend.EventUpdate, row)
	}
	return int64(len(changed)), nil
}

// Delete removes every matching row.
func (s *Store) Delete(ctx context.Context, table string, filters []backend.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.rows(table)
	if err != nil {
		return 0, err
	}
	kept := rows[:0:0]
	for _, row := range rows {
		if !backend.Match(row, filters) {
			kept = append(kept, row)
		}
	}
	s.tables[table] = kept
	return int64(len(rows) - len(kept)), nil
}

// Subscribe listens for writes made through this store.
func (s *Store) Subscribe(ctx context.Context, table string, opts backend.SubscribeOptions) (*backend.Subscription, error) {
	s.mu.RLock()
	_, err := s.rows(table)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return backend.SubscribeFeed(ctx, s.broker, table, opts)
}

func checkUnique(table string, rows []backend.Record, row backend.Record, self int) error {
	for _, idx := range uniqueIndexes[table] {
		if !backend.Match(row, idx.where) || hasNull(row, idx.columns) {
			continue
		}
		for i, other := range rows {
			if i == self || !backend.Match(other, idx.where) {
				continue
			}
			same := true
			for _, c := range idx.columns {
				if backend.Compare(other[c], row[c]) != 0 {
					same = false
					break
				}
			}
			if same {
				return fmt.Errorf("%w: %s %v", apperr.ErrDuplicateRequest, table, idx.columns)
			}
		}
	}
	return nil
}

// hasNull reports whether any indexed column is unset. Like Postgres, rows with
// a null key never collide.
func hasNull(row backend.Record, columns []string) bool {
	for _, c := range columns {
		if v, ok := row[c]; !ok || v == nil || v == "" {
			return true
		}
	}
	return false
}
