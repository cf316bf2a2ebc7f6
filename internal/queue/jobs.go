package queue

import (
	"encoding/json"
	"fmt"
)

// Job types handled by the worker.
const (
	JobOTPEmail         = "otp_email"
	JobConnectionUpdate = "connection_update"
)

// OTPEmail asks the worker to mail a one-time verification code.
type OTPEmail struct {
	Email     string `json:"email"`
	Code      string `json:"code"`
	ExpiresIn string `json:"expires_in"`
}

// ConnectionUpdate asks the worker to tell a student their request was answered.
type ConnectionUpdate struct {
	ConnectionID string `json:"connection_id"`
	StudentEmail string `json:"student_email"`
	StudentName  string `json:"student_name"`
	MentorName   string `json:"mentor_name"`
	Status       string `json:"status"`
}

// NewJob encodes payload as the JSON body of a message of type typ.
func NewJob(typ string, payload any) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s job: %w", typ, err)
	}
	return Message{Type: typ, Body: body}, nil
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode %s job: %w", m.Type, err)
	}
	return nil
}
