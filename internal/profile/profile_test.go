package profile

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
)

func setup(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New(nil)
	svc := NewService(store, memory.NewObjects("http://cdn.test"), time.Minute, nil)
	for _, p := range []backend.Record{
		{"id": "m1", "user_type": "mentor", "full_name": "Grace Hopper", "expertise": "Compilers", "rating": 4.9},
		{"id": "m2", "user_type": "mentor", "full_name": "Alan Turing", "expertise": "Computability, Go", "rating": 4.7},
		{"id": "m3", "user_type": "mentor", "full_name": "Barbara Liskov", "expertise": "Distributed systems", "rating": 4.8},
		{"id": "s1", "user_type": "student", "full_name": "Go Learner"},
	} {
		_, err := store.Insert(context.Background(), backend.TableProfiles, p)
		require.NoError(t, err)
	}
	return svc, store
}

func as(id string, role auth.Role) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: id, Role: role, Email: id + "@x.io"})
}

func TestListMentorsSearch(t *testing.T) {
	svc, _ := setup(t)

	all, err := svc.ListMentors(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Alan Turing", all[0].FullName)

	found, err := svc.ListMentors(context.Background(), "go")
	require.NoError(t, err)
	require.Len(t, found, 1, "students are never listed")
	assert.Equal(t, "m2", found[0].ID)

	found, err = svc.ListMentors(context.Background(), "HOPPER")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "m1", found[0].ID)
}

func TestLeaderboardIsCached(t *testing.T) {
	svc, store := setup(t)
	top, err := svc.Leaderboard(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, []string{"m1", "m3"}, []string{top[0].ID, top[1].ID})

	_, err = store.Update(context.Background(), backend.TableProfiles, []backend.Filter{backend.Eq("id", "m2")}, backend.Record{"rating": 5.0})
	require.NoError(t, err)
	cached, err := svc.Leaderboard(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "m1", cached[0].ID)

	// profile edits through the service invalidate the cache
	_, err = svc.Complete(as("m3", auth.RoleMentor), Input{FullName: "Barbara Liskov"})
	require.NoError(t, err)
	fresh, err := svc.Leaderboard(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "m2", fresh[0].ID)
}

func TestCompleteUpsertsOwnProfile(t *testing.T) {
	svc, _ := setup(t)

	_, err := svc.Complete(context.Background(), Input{FullName: "x"})
	assert.ErrorIs(t, err, apperr.ErrAuthRequired)

	p, err := svc.Complete(as("s1", auth.RoleStudent), Input{FullName: "  Go Learner  ", Goals: "ship things"})
	require.NoError(t, err)
	assert.Equal(t, "Go Learner", p.FullName)
	assert.Equal(t, "ship things", p.Goals)
	assert.NotNil(t, p.UpdatedAt)

	// a user without a profile row gets one
	p, err = svc.Complete(as("new", auth.RoleStudent), Input{FullName: "Newcomer"})
	require.NoError(t, err)
	assert.Equal(t, "student", p.UserType)
	assert.Equal(t, "new@x.io", p.Email)
}

func TestUploads(t *testing.T) {
	svc, _ := setup(t)

	url, err := svc.UploadImage(as("m1", auth.RoleMentor), "me.png", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.test/profile-images/m1/profile.png", url)

	_, err = svc.UploadCredential(as("s1", auth.RoleStudent), "degree.pdf", []byte("pdf"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	for i := 0; i < 2; i++ {
		_, err = svc.UploadCredential(as("m1", auth.RoleMentor), `C:\docs\degree.pdf`, []byte("pdf"))
		require.NoError(t, err)
	}
	_, err = svc.UploadCredential(as("m1", auth.RoleMentor), "cert.pdf", []byte("pdf"))
	require.NoError(t, err)

	p, err := svc.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, url, p.ProfileImage)
	assert.Equal(t, []string{
		"http://cdn.test/credentials/m1/degree.pdf",
		"http://cdn.test/credentials/m1/cert.pdf",
	}, p.Credentials)
}

func TestSetOnlineAndSummarize(t *testing.T) {
	svc, _ := setup(t)
	require.NoError(t, svc.SetOnline(context.Background(), "m1", true))
	p, err := svc.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, p.Online)

	assert.Nil(t, svc.Summarize(nil))
	s := svc.Summarize(backend.Record{"id": "x", "profile_image": "x/profile.jpg"})
	assert.Equal(t, "http://cdn.test/profile-images/x/profile.jpg", s.ProfileImage)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
