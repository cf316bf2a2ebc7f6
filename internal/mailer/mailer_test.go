package mailer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type captureSender struct {
	sent []*gomail.Message
	err  error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	c.sent = append(c.sent, m...)
	return c.err
}

func render(t *testing.T, m *gomail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestSendOTP(t *testing.T) {
	s := &captureSender{}
	m := NewWithSender(s, "noreply@mentorship.dev", nil)
	require.NoError(t, m.SendOTP("a@x.io", "123456", "15m0s"))
	require.Len(t, s.sent, 1)
	assert.Equal(t, []string{"a@x.io"}, s.sent[0].GetHeader("To"))
	assert.Contains(t, render(t, s.sent[0]), "123456")
}

func TestSendConnectionUpdate(t *testing.T) {
	s := &captureSender{}
	m := NewWithSender(s, "noreply@mentorship.dev", nil)
	require.NoError(t, m.SendConnectionUpdate("a@x.io", "Ann", "<Meg>", "rejected"))
	assert.Equal(t, []string{"Your mentorship request was declined"}, s.sent[0].GetHeader("Subject"))
	assert.Contains(t, render(t, s.sent[0]), "&lt;Meg&gt;")
}

func TestSendErrorIsReturned(t *testing.T) {
	s := &captureSender{err: errors.New("smtp down")}
	m := NewWithSender(s, "noreply@mentorship.dev", nil)
	assert.Error(t, m.SendOTP("a@x.io", "1", "1m"))
}
