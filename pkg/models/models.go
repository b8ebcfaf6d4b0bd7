package models

import "fmt"

// Status is the delivery lifecycle of a persisted message. Transitions are
// one-directional: sent -> delivered -> read.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// CanAdvanceTo reports whether s may transition to next. Backward or
// skipping transitions are rejected.
func (s Status) CanAdvanceTo(next Status) bool {
	switch {
	case s == StatusSent && next == StatusDelivered:
		return true
	case s == StatusDelivered && next == StatusRead:
		return true
	}
	return false
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

// User is a durable user record. Name is the stable identity string used as
// the presence key; ID is the internal numeric identifier used as a
// deterministic tie-break when ordering conversation partners.
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedTS int64  `json:"created_ts"`
}

// Message is a durable direct message between two users.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	TS        int64  `json:"ts"`
	Status    Status `json:"status"`
}

// Line renders the message in the relay wire format.
func (m Message) Line() string {
	return fmt.Sprintf("%s: %s", m.Sender, m.Body)
}
