// Package connection owns the mentor/student connection lifecycle: requests,
// the mentor's accept or reject decision and the direction-aware listings
// each side sees.
//
// A connection starts pending and moves exactly once, to accepted or
// rejected. Both outcomes are terminal and rows are never deleted.
package connection

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mentorship/internal/apperr"
	"mentorship/internal/auth"
	"mentorship/internal/backend"
	"mentorship/internal/metrics"
	"mentorship/internal/profile"
	"mentorship/internal/queue"
)

// Status is the lifecycle state of a connection.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Decision is a mentor's answer to a pending request.
type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

// ParseDecision validates a decision name.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case Accept, Reject:
		return Decision(s), nil
	}
	return "", apperr.Invalid("decision must be accept or reject, got %q", s)
}

func (d Decision) status() Status {
	if d == Accept {
		return StatusAccepted
	}
	return StatusRejected
}

// Connection is one request between a student and a mentor. Counterpart is
// the profile of the other party from the viewer's side, when requested.
type Connection struct {
	ID          string           `json:"id"`
	StudentID   string           `json:"student_id"`
	MentorID    string           `json:"mentor_id"`
	Status      Status           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	Counterpart *profile.Summary `json:"counterpart,omitempty"`
}

// Lists partitions a user's connections for display. Rejected rows are kept
// in storage but appear in neither list.
type Lists struct {
	Pending  []Connection `json:"pending"`
	Accepted []Connection `json:"accepted"`
}

// Manager applies connection state transitions through the backend store.
type Manager struct {
	store    backend.Store
	profiles *profile.Service
	jobs     queue.Queue
	log      *zap.Logger
}

// NewManager creates a Manager. jobs may be nil, in which case no
// notification emails are queued.
func NewManager(store backend.Store, profiles *profile.Service, jobs queue.Queue, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, profiles: profiles, jobs: jobs, log: log}
}

var activeStatuses = backend.In("status", string(StatusPending), string(StatusAccepted))

// RequestConnection records a pending request from studentID to mentorID.
func (m *Manager) RequestConnection(ctx context.Context, studentID, mentorID string) (Connection, error) {
	actor, err := auth.Require(ctx)
	if err != nil {
		return Connection{}, err
	}
	if actor.UserID != studentID || actor.Role != auth.RoleStudent {
		return Connection{}, fmt.Errorf("%w: only the requesting student can create a request", apperr.ErrForbidden)
	}
	if mentorID == "" || mentorID == studentID {
		return Connection{}, apperr.Invalid("mentor_id must name another user")
	}

	if _, err := m.store.Get(ctx, backend.TableProfiles, backend.Query{
		Columns: []string{"id"},
		Filters: []backend.Filter{backend.Eq("id", mentorID), backend.Eq("user_type", string(auth.RoleMentor))},
	}); err != nil {
		return Connection{}, err
	}

	existing, err := m.store.Query(ctx, backend.TableConnections, backend.Query{
		Columns: []string{"id"},
		Filters: []backend.Filter{backend.Eq("student_id", studentID), backend.Eq("mentor_id", mentorID), activeStatuses},
		Limit:   1,
	})
	if err != nil {
		return Connection{}, err
	}
	if len(existing) > 0 {
		return Connection{}, fmt.Errorf("%w: an active connection with this mentor exists", apperr.ErrDuplicateRequest)
	}

	// the unique index on active pairs still catches a concurrent duplicate
	row, err := m.store.Insert(ctx, backend.TableConnections, backend.Record{
		"student_id": studentID,
		"mentor_id":  mentorID,
		"status":     string(StatusPending),
	})
	if err != nil {
		return Connection{}, err
	}
	metrics.ConnectionTransitions.WithLabelValues(string(StatusPending)).Inc()
	m.log.Info("connection requested", zap.String("connection_id", row.String("id")),
		zap.String("student_id", studentID), zap.String("mentor_id", mentorID))
	return FromRecord(row), nil
}

// ListConnections returns the connections where userID occupies role, newest
// first, each with the counterpart's profile.
func (m *Manager) ListConnections(ctx context.Context, userID string, role auth.Role) (Lists, error) {
	actor, err := auth.Require(ctx)
	if err != nil {
		return Lists{}, err
	}
	if actor.UserID != userID {
		return Lists{}, fmt.Errorf("%w: connections of another user", apperr.ErrForbidden)
	}
	rows, err := m.query(ctx, userID, role, activeStatuses)
	if err != nil {
		return Lists{}, err
	}

	lists := Lists{Pending: []Connection{}, Accepted: []Connection{}}
	for _, c := range rows {
		switch c.Status {
		case StatusPending:
			lists.Pending = append(lists.Pending, c)
		case StatusAccepted:
			lists.Accepted = append(lists.Accepted, c)
		}
	}
	return lists, nil
}

// sides maps a role to the column holding the viewer and the column holding
// the counterpart.
func sides(role auth.Role) (self, other string, err error) {
	switch role {
	case auth.RoleMentor:
		return "mentor_id", "student_id", nil
	case auth.RoleStudent:
		return "student_id", "mentor_id", nil
	}
	return "", "", apperr.Invalid("unknown role %q", role)
}

func (m *Manager) query(ctx context.Context, userID string, role auth.Role, extra ...backend.Filter) ([]Connection, error) {
	self, other, err := sides(role)
	if err != nil {
		return nil, err
	}
	rows, err := m.store.Query(ctx, backend.TableConnections, backend.Query{
		Filters: append([]backend.Filter{backend.Eq(self, userID)}, extra...),
		Order:   []backend.Order{backend.Desc("created_at")},
		Join: &backend.Join{
			Table:       backend.TableProfiles,
			LocalColumn: other,
			As:          "counterpart",
			Columns:     profile.SummaryColumns,
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Connection, 0, len(rows))
	for _, row := range rows {
		c := FromRecord(row)
		if m.profiles != nil {
			c.Counterpart = m.profiles.Summarize(row.Nested("counterpart"))
		}
		out = append(out, c)
	}
	return out, nil
}

// RespondToConnection applies the mentor's decision to a pending request.
// The change is written first and only then reflected to the caller.
func (m *Manager) RespondToConnection(ctx context.Context, connectionID string, decision Decision) (Connection, error) {
	actor, err := auth.Require(ctx)
	if err != nil {
		return Connection{}, err
	}
	if decision != Accept && decision != Reject {
		return Connection{}, apperr.Invalid("decision must be accept or reject")
	}
	if actor.Role != auth.RoleMentor {
		return Connection{}, fmt.Errorf("%w: only mentors answer requests", apperr.ErrForbidden)
	}

	row, err := m.store.Get(ctx, backend.TableConnections, backend.Query{
		Filters: []backend.Filter{backend.Eq("id", connectionID), backend.Eq("mentor_id", actor.UserID)},
	})
	if err != nil {
		return Connection{}, err
	}
	current := FromRecord(row)
	if current.Status != StatusPending {
		return Connection{}, fmt.Errorf("%w: connection is %s", apperr.ErrInvalidTransition, current.Status)
	}

	next := decision.status()
	// conditional on pending so a concurrent answer cannot be overwritten
	n, err := m.store.Update(ctx, backend.TableConnections,
		[]backend.Filter{backend.Eq("id", connectionID), backend.Eq("status", string(StatusPending))},
		backend.Record{"status": string(next), "updated_at": time.Now().UTC()})
	if err != nil {
		return Connection{}, err
	}
	if n == 0 {
		return Connection{}, fmt.Errorf("%w: connection was answered concurrently", apperr.ErrInvalidTransition)
	}

	current.Status = next
	metrics.ConnectionTransitions.WithLabelValues(string(next)).Inc()
	m.log.Info("connection answered", zap.String("connection_id", connectionID),
		zap.String("mentor_id", actor.UserID), zap.String("status", string(next)))
	m.notify(ctx, current)
	return current, nil
}

// notify queues the email telling the student about the decision. Failures
// are logged; the transition already happened.
func (m *Manager) notify(ctx context.Context, c Connection) {
	if m.jobs == nil || m.profiles == nil {
		return
	}
	student, err := m.profiles.Get(ctx, c.StudentID)
	if err != nil {
		m.log.Warn("connection notification skipped", zap.String("connection_id", c.ID), zap.Error(err))
		return
	}
	mentor, err := m.profiles.Get(ctx, c.MentorID)
	if err != nil {
		m.log.Warn("connection notification skipped", zap.String("connection_id", c.ID), zap.Error(err))
		return
	}
	if student.Email == "" {
		return
	}
	job, err := queue.NewJob(queue.JobConnectionUpdate, queue.ConnectionUpdate{
		ConnectionID: c.ID,
		StudentEmail: student.Email,
		StudentName:  student.FullName,
		MentorName:   mentor.FullName,
		Status:       string(c.Status),
	})
	if err == nil {
		err = m.jobs.Publish(ctx, job)
	}
	if err != nil {
		m.log.Warn("connection notification not queued", zap.String("connection_id", c.ID), zap.Error(err))
	}
}

// Get returns a connection the caller is a party to.
func (m *Manager) Get(ctx context.Context, connectionID string) (Connection, error) {
	actor, err := auth.Require(ctx)
	if err != nil {
		return Connection{}, err
	}
	row, err := m.store.Get(ctx, backend.TableConnections, backend.Query{
		Filters: []backend.Filter{
			backend.Eq("id", connectionID),
			backend.Or(backend.Eq("student_id", actor.UserID), backend.Eq("mentor_id", actor.UserID)),
		},
	})
	if err != nil {
		return Connection{}, err
	}
	return FromRecord(row), nil
}

// PendingCount returns how many requests await the mentor's answer.
func (m *Manager) PendingCount(ctx context.Context, mentorID string) (int, error) {
	actor, err := auth.Require(ctx)
	if err != nil {
		return 0, err
	}
	if actor.UserID != mentorID {
		return 0, fmt.Errorf("%w: pending requests of another user", apperr.ErrForbidden)
	}
	rows, err := m.store.Query(ctx, backend.TableConnections, backend.Query{
		Columns: []string{"id"},
		Filters: []backend.Filter{backend.Eq("mentor_id", mentorID), backend.Eq("status", string(StatusPending))},
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Watch subscribes to changes of connections where userID occupies role.
// The caller owns the subscription and must Close it.
func (m *Manager) Watch(ctx context.Context, userID string, role auth.Role) (*backend.Subscription, error) {
	self, _, err := sides(role)
	if err != nil {
		return nil, err
	}
	return m.store.Subscribe(ctx, backend.TableConnections, backend.SubscribeOptions{
		Filters: []backend.Filter{backend.Eq(self, userID)},
	})
}

// FromRecord decodes a connections row.
func FromRecord(row backend.Record) Connection {
	return Connection{
		ID:        row.String("id"),
		StudentID: row.String("student_id"),
		MentorID:  row.String("mentor_id"),
		Status:    Status(row.String("status")),
		CreatedAt: row.Time("created_at"),
	}
}

