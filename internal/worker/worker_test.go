package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorship/internal/queue"
)

type fakeMailer struct {
	mu   sync.Mutex
	otps []string
	sent []string
	err  error
}

func (f *fakeMailer) SendOTP(to, code, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otps = append(f.otps, to+":"+code)
	return f.err
}

func (f *fakeMailer) SendConnectionUpdate(to, _, mentor, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+":"+mentor+":"+status)
	return f.err
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.otps) + len(f.sent)
}

func TestHandleDispatchesByType(t *testing.T) {
	m := &fakeMailer{}
	w := New(m, nil)

	job, err := queue.NewJob(queue.JobOTPEmail, queue.OTPEmail{Email: "a@x.io", Code: "123456"})
	require.NoError(t, err)
	require.NoError(t, w.Handle(job))

	job, err = queue.NewJob(queue.JobConnectionUpdate, queue.ConnectionUpdate{StudentEmail: "s@x.io", MentorName: "Meg", Status: "accepted"})
	require.NoError(t, err)
	require.NoError(t, w.Handle(job))

	assert.Equal(t, []string{"a@x.io:123456"}, m.otps)
	assert.Equal(t, []string{"s@x.io:Meg:accepted"}, m.sent)

	assert.ErrorIs(t, w.Handle(queue.Message{Type: "checkin"}), ErrUnknownJob)
	assert.Error(t, w.Handle(queue.Message{Type: queue.JobOTPEmail, Body: []byte("{")}))
}

func TestHandleReturnsMailerErrors(t *testing.T) {
	w := New(&fakeMailer{err: errors.New("smtp down")}, nil)
	job, err := queue.NewJob(queue.JobOTPEmail, queue.OTPEmail{Email: "a@x.io", Code: "1"})
	require.NoError(t, err)
	assert.Error(t, w.Handle(job))
}

func TestRunDrainsQueueUntilCancelled(t *testing.T) {
	m := &fakeMailer{}
	q := queue.NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(m, nil).Run(ctx, q) }()

	for i := 0; i < 3; i++ {
		job, err := queue.NewJob(queue.JobOTPEmail, queue.OTPEmail{Email: "a@x.io", Code: "1"})
		require.NoError(t, err)
		require.NoError(t, q.Publish(ctx, job))
	}
	assert.Eventually(t, func() bool { return m.count() == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
