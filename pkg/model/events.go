package model

import (
	"time"

	"github.com/google/uuid"
)

// Session lifecycle event types.
const (
	EventLogin     = "session.login"
	EventLogout    = "session.logout"
	EventRefreshed = "session.refreshed"
	EventAuthLost  = "session.auth_lost"
)

// SessionEvent is emitted whenever the console session changes hands.
// It never carries token material.
type SessionEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Service   string    `json:"service"`
	Username  string    `json:"username,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSessionEvent builds an event stamped with a fresh id and the current UTC time.
func NewSessionEvent(eventType, service, username string) SessionEvent {
	return SessionEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Service:   service,
		Username:  username,
		Timestamp: time.Now().UTC(),
	}
}
