package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorship/internal/apperr"
	"mentorship/internal/auth"
	"mentorship/internal/backend"
	"mentorship/internal/backend/memory"
	"mentorship/internal/profile"
	"mentorship/internal/queue"
)

type fixture struct {
	store   *memory.Store
	jobs    *queue.InMemory
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New(nil)
	profiles := profile.NewService(store, memory.NewObjects("http://cdn.test"), time.Second, nil)
	jobs := queue.NewInMemory(16)
	f := &fixture{store: store, jobs: jobs, manager: NewManager(store, profiles, jobs, nil)}
	for _, p := range []backend.Record{
		{"id": "s1", "user_type": "student", "full_name": "Sam Student", "email": "sam@x.io"},
		{"id": "s2", "user_type": "student", "full_name": "Sue Student", "email": "sue@x.io"},
		{"id": "m1", "user_type": "mentor", "full_name": "Meg Mentor", "expertise": "Go", "rating": 4.5},
		{"id": "m2", "user_type": "mentor", "full_name": "Max Mentor"},
	} {
		_, err := store.Insert(context.Background(), backend.TableProfiles, p)
		require.NoError(t, err)
	}
	return f
}

func as(userID string, role auth.Role) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: userID, Role: role})
}

func TestRequestCreatesPendingVisibleToBothSides(t *testing.T) {
	f := newFixture(t)

	c, err := f.manager.RequestConnection(as("s1", auth.RoleStudent), "s1", "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)
	assert.NotEmpty(t, c.ID)

	mentorView, err := f.manager.ListConnections(as("m1", auth.RoleMentor), "m1", auth.RoleMentor)
	require.NoError(t, err)
	require.Len(t, mentorView.Pending, 1)
	assert.Empty(t, mentorView.Accepted)
	assert.Equal(t, c.ID, mentorView.Pending[0].ID)
	require.NotNil(t, mentorView.Pending[0].Counterpart)
	assert.Equal(t, "Sam Student", mentorView.Pending[0].Counterpart.FullName)

	studentView, err := f.manager.ListConnections(as("s1", auth.RoleStudent), "s1", auth.RoleStudent)
	require.NoError(t, err)
	require.Len(t, studentView.Pending, 1)
	assert.Equal(t, "Meg Mentor", studentView.Pending[0].Counterpart.FullName)
	assert.Equal(t, 4.5, studentView.Pending[0].Counterpart.Rating)
}

func TestAcceptMovesToAcceptedForBothSides(t *testing.T) {
	f := newFixture(t)
	c, err := f.manager.RequestConnection(as("s1", auth.RoleStudent), "s1", "m1")
	require.NoError(t, err)

	got, err := f.manager.RespondToConnection(as("m1", auth.RoleMentor), c.ID, Accept)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)

	for _, view := range []struct {
		id   string
		role auth.Role
	}{{"m1", auth.RoleMentor}, {"s1", auth.RoleStudent}} {
		lists, err := f.manager.ListConnections(as(view.id, view.role), view.id, view.role)
		require.NoError(t, err)
		assert.Empty(t, lists.Pending)
		require.Len(t, lists.Accepted, 1)
		assert.Equal(t, c.ID, lists.Accepted[0].ID)
	}

	// the student is told about the decision
	require.Equal(t, 1, f.jobs.Len())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := f.jobs.Consume(ctx)
	require.NoError(t, err)
	msg := <-msgs
	var job queue.ConnectionUpdate
	require.NoError(t, msg.Decode(&job))
	assert.Equal(t, "sam@x.io", job.StudentEmail)
	assert.Equal(t, "Meg Mentor", job.MentorName)
	assert.Equal(t, "accepted", job.Status)
}

func TestTerminalStatesRejectFurtherResponses(t *testing.T) {
	f := newFixture(t)
	mentor := as("m1", auth.RoleMentor)

	accepted, err := f.manager.RequestConnection(as("s1", auth.RoleStudent), "s1", "m1")
	require.NoError(t, err)
	_, err = f.manager.RespondToConnection(mentor, accepted.ID, Accept)
	require.NoError(t, err)

	rejected, err := f.manager.RequestConnection(as("s2", auth.RoleStudent), "s2", "m1")
	require.NoError(t, err)
	_, err = f.manager.RespondToConnection(mentor, rejected.ID, Reject)
	require.NoError(t, err)

	for _, id := range []string{accepted.ID, rejected.ID} {
		for _, d := range []Decision{Accept, Reject} {
			_, err := f.manager.RespondToConnection(mentor, id, d)
			assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		}
	}

	// the accepted row is unchanged
	row, err := f.store.Get(context.Background(), backend.TableConnections, backend.Query{
		Filters: []backend.Filter{backend.Eq("id", accepted.ID)},
	})
	require.NoError(t, err)
	assert.Equal(t, "accepted", row.String("status"))
}

func TestRespondChecksOwnership(t *testing.T) {
	f := newFixture(t)
	c, err := f.manager.RequestConnection(as("s1", auth.RoleStudent), "s1", "m1")
	require.NoError(t, err)

	_, err = f.manager.RespondToConnection(as("m2", auth.RoleMentor), c.ID, Accept)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.manager.RespondToConnection(as("s1", auth.RoleStudent), c.ID, Accept)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.manager.RespondToConnection(as("m1", auth.RoleMentor), "missing", Accept)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.manager.RespondToConnection(context.Background(), c.ID, Accept)
	assert.ErrorIs(t, err, apperr.ErrAuthRequired)
}

func TestDuplicateRequests(t *testing.T) {
	f := newFixture(t)
	student := as("s1", auth.RoleStudent)

	c, err := f.manager.RequestConnection(student, "s1", "m1")
	require.NoError(t, err)
	_, err = f.manager.RequestConnection(student, "s1", "m1")
	assert.ErrorIs(t, err, apperr.ErrDuplicateRequest)

	_, err = f.manager.RespondToConnection(as("m1", auth.RoleMentor), c.ID, Accept)
	require.NoError(t, err)
	_, err = f.manager.RequestConnection(student, "s1", "m1")
	assert.ErrorIs(t, err, apperr.ErrDuplicateRequest)
}

func TestRequestAfterRejectionIsAllowed(t *testing.T) {
	f := newFixture(t)
	student := as("s1", auth.RoleStudent)

	c, err := f.manager.RequestConnection(student, "s1", "m1")
	require.NoError(t, err)
	_, err = f.manager.RespondToConnection(as("m1", auth.RoleMentor), c.ID, Reject)
	require.NoError(t, err)

	again, err := f.manager.RequestConnection(student, "s1", "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)

	// the rejected row is retained in storage but hidden from views
	rows, err := f.store.Query(context.Background(), backend.TableConnections, backend.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	lists, err := f.manager.ListConnections(student, "s1", auth.RoleStudent)
	require.NoError(t, err)
	require.Len(t, lists.Pending, 1)
	assert.Equal(t, again.ID, lists.Pending[0].ID)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.RequestConnection(context.Background(), "s1", "m1")
	assert.ErrorIs(t, err, apperr.ErrAuthRequired)

	_, err = f.manager.RequestConnection(as("m1", auth.RoleMentor), "m1", "m2")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.manager.RequestConnection(as("s1", auth.RoleStudent), "s2", "m1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.manager.RequestConnection(as("s1", auth.RoleStudent), "s1", "s2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.manager.RequestConnection(as("s1", auth.RoleStudent), "s1", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestListingIsExactPartitionOrderedNewestFirst(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for _, s := range []string{"s1", "s2", "s3", "s4"} {
		_, err := f.store.Insert(context.Background(), backend.TableProfiles, backend.Record{"id": s + "x", "user_type": "student"})
		require.NoError(t, err)
		c, err := f.manager.RequestConnection(as(s+"x", auth.RoleStudent), s+"x", "m1")
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	// one request to another mentor must not leak into m1's view
	_, err := f.manager.RequestConnection(as("s1", auth.RoleStudent), "s1", "m2")
	require.NoError(t, err)

	mentor := as("m1", auth.RoleMentor)
	_, err = f.manager.RespondToConnection(mentor, ids[1], Accept)
	require.NoError(t, err)
	_, err = f.manager.RespondToConnection(mentor, ids[2], Reject)
	require.NoError(t, err)

	lists, err := f.manager.ListConnections(mentor, "m1", auth.RoleMentor)
	require.NoError(t, err)

	pending := []string{}
	for _, c := range lists.Pending {
		assert.Equal(t, "m1", c.MentorID)
		pending = append(pending, c.ID)
	}
	assert.Equal(t, []string{ids[3], ids[0]}, pending)
	require.Len(t, lists.Accepted, 1)
	assert.Equal(t, ids[1], lists.Accepted[0].ID)

	for i := 1; i < len(lists.Pending); i++ {
		assert.False(t, lists.Pending[i].CreatedAt.After(lists.Pending[i-1].CreatedAt))
	}

	_, err = f.manager.ListConnections(mentor, "m2", auth.RoleMentor)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestPendingCountAndWatch(t *testing.T) {
	f := newFixture(t)
	mentor := as("m1", auth.RoleMentor)

	sub, err := f.manager.Watch(context.Background(), "m1", auth.RoleMentor)
	require.NoError(t, err)
	defer sub.Close()

	n, err := f.manager.PendingCount(mentor, "m1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.manager.RequestConnection(as("s2", auth.RoleStudent), "s2", "m2")
	require.NoError(t, err)
	_, err = f.manager.RequestConnection(as("s1", auth.RoleStudent), "s1", "m1")
	require.NoError(t, err)

	n, err = f.manager.PendingCount(mentor, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case evt := <-sub.Events():
		assert.Equal(t, "m1", evt.New.String("mentor_id"))
	case <-time.After(time.Second):
		t.Fatal("no connection change delivered")
	}
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("reject")
	require.NoError(t, err)
	assert.Equal(t, Reject, d)
	_, err = ParseDecision("maybe")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}
