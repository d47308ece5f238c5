package session

import (
	"encoding/json"

	"github.com/Checker-Finance/oneself-console/internal/httpclient"
)

// tokenRule pulls a token out of one known response shape.
type tokenRule struct {
	shape string
	match func(env *httpclient.Envelope) (string, bool)
}

// tokenRules lists the login response shapes the gateway has been seen to use,
// most specific first. The first match wins.
var tokenRules = []tokenRule{
	{shape: "data", match: func(env *httpclient.Envelope) (string, bool) {
		return stringValue(env.Data)
	}},
	{shape: "data.token", match: func(env *httpclient.Envelope) (string, bool) {
		return stringValue(objectField(env.Data, "token"))
	}},
	{shape: "data.accessToken", match: func(env *httpclient.Envelope) (string, bool) {
		return stringValue(objectField(env.Data, "accessToken"))
	}},
	{shape: "token", match: func(env *httpclient.Envelope) (string, bool) {
		return stringValue(env.Fields["token"])
	}},
	{shape: "accessToken", match: func(env *httpclient.Envelope) (string, bool) {
		return stringValue(env.Fields["accessToken"])
	}},
}

// ExtractToken returns the access token carried by a login or refresh
// response and the shape it was found in. ok is false when no rule matched.
func ExtractToken(env *httpclient.Envelope) (token, shape string, ok bool) {
	if env == nil {
		return "", "", false
	}
	for _, r := range tokenRules {
		if t, found := r.match(env); found {
			return t, r.shape, true
		}
	}
	return "", "", false
}

// ExtractRefreshToken looks in data.refreshToken, then top-level refreshToken.
func ExtractRefreshToken(env *httpclient.Envelope) (string, bool) {
	if env == nil {
		return "", false
	}
	if t, ok := stringValue(objectField(env.Data, "refreshToken")); ok {
		return t, true
	}
	return stringValue(env.Fields["refreshToken"])
}

// ExtractProfile picks the user profile out of a login response, falling back
// to a minimal profile naming username.
func ExtractProfile(env *httpclient.Envelope, username string) map[string]any {
	if env != nil {
		if user, ok := objectValue(objectField(env.Data, "user")); ok {
			return user
		}
		if payload, ok := objectValue(env.Data); ok && !hasTokenField(payload) {
			delete(payload, "refreshToken")
			return payload
		}
		if user, ok := objectValue(env.Fields["user"]); ok {
			return user
		}
	}
	return map[string]any{"username": username}
}

func hasTokenField(m map[string]any) bool {
	for _, k := range []string{"token", "accessToken"} {
		if s, ok := m[k].(string); ok && s != "" {
			return true
		}
	}
	return false
}

func stringValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

func objectValue(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func objectField(raw json.RawMessage, name string) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m[name]
}
