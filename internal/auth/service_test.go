package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/crypto"
	"github.com/Checker-Finance/oneself-console/internal/httpclient"
	"github.com/Checker-Finance/oneself-console/internal/session"
	"github.com/Checker-Finance/oneself-console/pkg/model"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.SessionEvent
	err    error
}

func (r *recordingPublisher) PublishSessionEvent(_ context.Context, evt model.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc   *Service
	store *session.Store
	pub   *recordingPublisher
	keys  crypto.KeyPair
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	kp, err := crypto.GenerateKeyPair(2048)
	require.NoError(t, err)

	store := session.NewStore(session.NewMemoryBackend(), zap.NewNop())
	exec := httpclient.New(zap.NewNop(), srv.Client(), store, httpclient.Config{BaseURL: srv.URL + "/oneself-auth"})
	pub := &recordingPublisher{}
	return &fixture{
		svc:   NewService(zap.NewNop(), exec, StaticKey(kp.PublicKey), store, pub, "oneself-console"),
		store: store,
		pub:   pub,
		keys:  kp,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ─── Login ────────────────────────────────────────────────────────────────────

func TestLogin_BareStringPayload(t *testing.T) {
	var got LoginParams
	var authHeader []string
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oneself-auth/auth/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		authHeader = r.Header.Values("authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, map[string]any{"msgCode": 200, "data": "abc123"})
	})

	env, err := f.svc.Login(context.Background(), LoginParams{Username: "alice", Password: "pw", CaptchaID: "c1", CaptchaCode: "1234"})
	require.NoError(t, err)
	require.NotNil(t, env)

	tok, ok := f.store.AccessToken()
	require.True(t, ok)
	assert.Equal(t, "abc123", tok)

	profile, ok := f.store.UserProfile()
	require.True(t, ok)
	assert.Equal(t, map[string]any{"username": "alice"}, profile)

	// the password goes out encrypted and decrypts back to the original
	assert.NotEqual(t, "pw", got.Password)
	plain, err := crypto.DecryptPassword(got.Password, f.keys.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "pw", plain)
	assert.Equal(t, "c1", got.CaptchaID)
	assert.Equal(t, "1234", got.CaptchaCode)
	assert.Empty(t, authHeader)

	assert.Equal(t, []string{model.EventLogin}, f.pub.types())
}

func TestLogin_NestedAccessTokenAndUser(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": map[string]any{
			"accessToken":  "xyz",
			"refreshToken": "r1",
			"user":         map[string]any{"name": "a"},
		}})
	})

	_, err := f.svc.Login(context.Background(), LoginParams{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	snap, _ := f.store.Snapshot()
	assert.Equal(t, "xyz", snap.AccessToken)
	assert.Equal(t, "r1", snap.RefreshToken)
	assert.Equal(t, map[string]any{"name": "a"}, snap.UserProfile)
}

func TestLogin_TopLevelToken(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"token": "t1"})
	})

	_, err := f.svc.Login(context.Background(), LoginParams{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	tok, _ := f.store.AccessToken()
	assert.Equal(t, "t1", tok)
}

func TestLogin_NoTokenIsRecoverable(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"msgCode": 200, "message": "ok"})
	})

	env, err := f.svc.Login(context.Background(), LoginParams{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "ok", env.Message)
	assert.False(t, f.store.IsAuthenticated())

	profile, ok := f.store.UserProfile()
	require.True(t, ok)
	assert.Equal(t, "alice", profile["username"])
	assert.Empty(t, f.pub.types())
}

func TestLogin_TokenlessLoginReplacesPreviousSession(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"msgCode": 200, "data": map[string]any{"nickname": "bob"}})
	})
	require.NoError(t, f.store.SetSession(context.Background(), session.Session{
		AccessToken:  "alice-token",
		RefreshToken: "alice-refresh",
		UserProfile:  map[string]any{"username": "alice"},
	}))

	_, err := f.svc.Login(context.Background(), LoginParams{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	assert.False(t, f.store.IsAuthenticated())
	_, ok := f.store.RefreshToken()
	assert.False(t, ok)
	profile, ok := f.store.UserProfile()
	require.True(t, ok)
	assert.Equal(t, "bob", profile["nickname"])
	assert.NotContains(t, profile, "username")
}

func TestLogin_EncryptionFailureIsFatal(t *testing.T) {
	called := false
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	f.svc.keys = StaticKey("not-a-key")

	_, err := f.svc.Login(context.Background(), LoginParams{Username: "alice", Password: "pw"})
	require.Error(t, err)
	assert.ErrorIs(t, err, crypto.ErrEncryptFailed)
	assert.False(t, called)
}

func TestLogin_MissingCredentials(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := f.svc.Login(context.Background(), LoginParams{Username: "alice"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLogin_GatewayRejection(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"msgCode": 500, "message": "captcha mismatch"})
	})
	env, err := f.svc.Login(context.Background(), LoginParams{Username: "alice", Password: "pw"})
	// a non-401 business code is handed back to the caller
	require.NoError(t, err)
	require.NotNil(t, env.MsgCode)
	assert.Equal(t, 500, *env.MsgCode)
	assert.False(t, f.store.IsAuthenticated())
}

func TestLogin_Rejected401WithoutSessionIsNotAuthLoss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	kp, err := crypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	store := session.NewStore(session.NewMemoryBackend(), zap.NewNop())
	lost := 0
	exec := httpclient.New(zap.NewNop(), srv.Client(), store, httpclient.Config{
		BaseURL:    srv.URL + "/oneself-auth",
		OnAuthLost: func() { lost++ },
	})
	svc := NewService(zap.NewNop(), exec, StaticKey(kp.PublicKey), store, &recordingPublisher{}, "oneself-console")

	_, err = svc.Login(context.Background(), LoginParams{Username: "alice", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, httpclient.IsAuthFailure(err))
	assert.Equal(t, 0, lost)
}

// ─── Logout / Refresh / Captcha ───────────────────────────────────────────────

func TestLogout_ClearsSessionEvenWhenGatewayFails(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, []string{"tok"}, r.Header.Values("authorization"))
		w.WriteHeader(http.StatusInternalServerError)
	})
	require.NoError(t, f.store.SetSession(context.Background(), session.Session{
		AccessToken: "tok", RefreshToken: "r", UserProfile: map[string]any{"username": "alice"},
	}))

	_, err := f.svc.Logout(context.Background())
	require.Error(t, err)
	assert.Equal(t, httpclient.KindHTTPStatus, httpclient.KindOf(err))

	snap, _ := f.store.Snapshot()
	assert.Equal(t, session.Session{}, snap)
	assert.Equal(t, []string{model.EventLogout}, f.pub.types())
	assert.Equal(t, "alice", f.pub.events[0].Username)
}

func TestRefresh_StoresNewToken(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oneself-auth/auth/refresh", r.URL.Path)
		assert.Equal(t, []string{"old"}, r.Header.Values("authorization"))
		writeJSON(w, map[string]any{"data": "new"})
	})
	require.NoError(t, f.store.SetSession(context.Background(), session.Session{AccessToken: "old", RefreshToken: "r"}))

	_, err := f.svc.Refresh(context.Background())
	require.NoError(t, err)

	snap, _ := f.store.Snapshot()
	assert.Equal(t, "new", snap.AccessToken)
	assert.Equal(t, "r", snap.RefreshToken)
	assert.Equal(t, []string{model.EventRefreshed}, f.pub.types())
}

func TestRefresh_401ClearsSession(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"msgCode": 401, "message": "expired"})
	})
	require.NoError(t, f.store.SetSession(context.Background(), session.Session{AccessToken: "old"}))

	_, err := f.svc.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, httpclient.IsAuthFailure(err))
	assert.False(t, f.store.IsAuthenticated())
}

func TestCaptcha(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, map[string]any{"data": map[string]any{"captchaId": "id-1", "captchaImage": "data:image/png;base64,AAA"}})
	})
	c, err := f.svc.Captcha(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id-1", c.CaptchaID)
	assert.Equal(t, "data:image/png;base64,AAA", c.CaptchaImage)
}

func TestCaptcha_TopLevelFields(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"captchaId": "id-2", "captchaImage": "img"})
	})
	c, err := f.svc.Captcha(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id-2", c.CaptchaID)
}

func TestEventPublishFailureDoesNotFailLogin(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": "abc"})
	})
	f.pub.err = errors.New("nats down")

	_, err := f.svc.Login(context.Background(), LoginParams{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, f.store.IsAuthenticated())
}
