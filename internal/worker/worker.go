// Package worker runs background jobs taken from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mentorship/internal/metrics"
	"mentorship/internal/queue"
)

// Mailer sends the emails jobs ask for.
type Mailer interface {
	SendOTP(to, code, expiresIn string) error
	SendConnectionUpdate(to, studentName, mentorName, status string) error
}

// ErrUnknownJob is returned for message types no handler exists for.
var ErrUnknownJob = errors.New("unknown job type")

// Worker dispatches queue messages to their handlers.
type Worker struct {
	mail Mailer
	log  *zap.Logger
}

// New creates a Worker.
func New(mail Mailer, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{mail: mail, log: log}
}

// Handle processes one message.
func (w *Worker) Handle(msg queue.Message) error {
	switch msg.Type {
	case queue.JobOTPEmail:
		var job queue.OTPEmail
		if err := msg.Decode(&job); err != nil {
			return err
		}
		return w.mail.SendOTP(job.Email, job.Code, job.ExpiresIn)
	case queue.JobConnectionUpdate:
		var job queue.ConnectionUpdate
		if err := msg.Decode(&job); err != nil {
			return err
		}
		if job.StudentEmail == "" {
			return fmt.Errorf("connection %s: no student email", job.ConnectionID)
		}
		return w.mail.SendConnectionUpdate(job.StudentEmail, job.StudentName, job.MentorName, job.Status)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.Type)
	}
}

// Run consumes q until ctx is cancelled or the queue closes.
func (w *Worker) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	w.log.Info("worker started, waiting for messages")
	for msg := range messages {
		err := w.Handle(msg)
		result := "ok"
		if err != nil {
			result = "error"
			w.log.Error("job failed", zap.String("type", msg.Type), zap.Error(err))
		} else {
			w.log.Debug("job done", zap.String("type", msg.Type))
		}
		metrics.JobsProcessed.WithLabelValues(msg.Type, result).Inc()
		msg.Done(err)
	}
	w.log.Info("worker stopped")
	return nil
}
