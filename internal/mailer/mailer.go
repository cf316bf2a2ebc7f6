// Package mailer sends transactional email over SMTP.
package mailer

import (
	"fmt"
	"html"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Sender delivers one message.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer renders and sends the application's emails.
type Mailer struct {
	sender Sender
	from   string
	log    *zap.Logger
}

// New creates a Mailer using an SMTP dialer.
func New(host string, port int, username, password, from string, log *zap.Logger) *Mailer {
	return NewWithSender(gomail.NewDialer(host, port, username, password), from, log)
}

// NewWithSender creates a Mailer around an existing sender.
func NewWithSender(sender Sender, from string, log *zap.Logger) *Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mailer{sender: sender, from: from, log: log}
}

// SendOTP mails a verification code.
func (m *Mailer) SendOTP(to, code, expiresIn string) error {
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Your verification code</h2>
			<h1 style="letter-spacing: 5px;">%s</h1>
			<p>This code expires in %s.</p>
			<p>If you didn't request this, please ignore this email.</p>
		</div>
	`, html.EscapeString(code), html.EscapeString(expiresIn))
	return m.send(to, "Your OTP Code", body)
}

// SendConnectionUpdate tells a student that a mentor answered their request.
func (m *Mailer) SendConnectionUpdate(to, studentName, mentorName, status string) error {
	verb := "declined"
	if status == "accepted" {
		verb = "accepted"
	}
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<p>Hi %s,</p>
			<p><strong>%s</strong> has %s your mentorship request.</p>
		</div>
	`, html.EscapeString(studentName), html.EscapeString(mentorName), verb)
	return m.send(to, "Your mentorship request was "+verb, body)
}

func (m *Mailer) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.sender.DialAndSend(msg); err != nil {
		m.log.Error("send email failed", zap.String("to", to), zap.String("subject", subject), zap.Error(err))
		return err
	}
	m.log.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// LogSender logs messages instead of delivering them. It stands in for SMTP
// when no credentials are configured.
type LogSender struct {
	Log *zap.Logger
}

// DialAndSend logs each message's recipients and subject.
func (s LogSender) DialAndSend(msgs ...*gomail.Message) error {
	for _, m := range msgs {
		s.Log.Info("email not sent, SMTP not configured",
			zap.Strings("to", m.GetHeader("To")), zap.Strings("subject", m.GetHeader("Subject")))
	}
	return nil
}
