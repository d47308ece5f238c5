package api

import (
	"encoding/json"
	"time"

	"github.com/Checker-Finance/oneself-console/internal/httpclient"
)

// EnvelopeResponse relays a gateway envelope to the console client.
type EnvelopeResponse struct {
	MsgCode *int            `json:"msgCode,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Text    string          `json:"text,omitempty"`
}

func toEnvelopeResponse(env *httpclient.Envelope) EnvelopeResponse {
	if env == nil {
		return EnvelopeResponse{}
	}
	return EnvelopeResponse{MsgCode: env.MsgCode, Message: env.Message, Data: env.Data, Text: env.Text}
}

// SessionResponse describes the console session without exposing tokens.
type SessionResponse struct {
	Authenticated   bool           `json:"authenticated"`
	Token           string         `json:"token,omitempty"` // masked
	HasRefreshToken bool           `json:"hasRefreshToken"`
	Profile         map[string]any `json:"profile,omitempty"`
	Subject         string         `json:"subject,omitempty"`
	ExpiresAt       *time.Time     `json:"expiresAt,omitempty"`
	Generation      uint64         `json:"generation"`
}

// ViewResponse names the view the console should show.
type ViewResponse struct {
	View         string `json:"view"`
	Path         string `json:"path"`
	RequiresAuth bool   `json:"requiresAuth"`
}

// ErrorResponse is the body of every non-2xx console response.
type ErrorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	Code     int    `json:"code,omitempty"`
	Cause    string `json:"cause,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}
