package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/auth"
	"github.com/Checker-Finance/oneself-console/internal/httpclient"
	"github.com/Checker-Finance/oneself-console/internal/navigation"
	"github.com/Checker-Finance/oneself-console/internal/session"
	"github.com/Checker-Finance/oneself-console/internal/system"
)

// ─── Mock auth service ────────────────────────────────────────────────────────

type mockAuth struct {
	store     *session.Store
	captchaFn func(ctx context.Context) (*auth.Captcha, error)
	loginFn   func(ctx context.Context, p auth.LoginParams) (*httpclient.Envelope, error)
	logoutErr error
	refreshFn func(ctx context.Context) (*httpclient.Envelope, error)
}

func (m *mockAuth) Captcha(ctx context.Context) (*auth.Captcha, error) {
	if m.captchaFn != nil {
		return m.captchaFn(ctx)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuth) Login(ctx context.Context, p auth.LoginParams) (*httpclient.Envelope, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, p)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuth) Logout(ctx context.Context) (*httpclient.Envelope, error) {
	_ = m.store.Clear(ctx)
	return &httpclient.Envelope{}, m.logoutErr
}

func (m *mockAuth) Refresh(ctx context.Context) (*httpclient.Envelope, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return nil, errors.New("not implemented")
}

// ─── Test app helpers ─────────────────────────────────────────────────────────

type testApp struct {
	app    *fiber.App
	store  *session.Store
	auth   *mockAuth
	router *navigation.Router
}

func newTestApp(t *testing.T, gateway http.HandlerFunc) *testApp {
	t.Helper()
	store := session.NewStore(session.NewMemoryBackend(), zap.NewNop())
	router := navigation.NewRouter(zap.NewNop(), store, nil)
	ma := &mockAuth{store: store}

	var sys *SystemHandler
	if gateway != nil {
		srv := httptest.NewServer(gateway)
		t.Cleanup(srv.Close)
		exec := httpclient.New(zap.NewNop(), srv.Client(), store, httpclient.Config{
			BaseURL:    srv.URL + "/oneself-auth",
			OnAuthLost: func() { router.RedirectToLogin() },
		})
		sys = NewSystemHandler(zap.NewNop(), system.NewClient(exec, srv.URL+"/oneself-system"))
	}

	app := fiber.New()
	RegisterRoutes(app, NewConsoleHandler(zap.NewNop(), ma, store, router), sys, map[string]HealthCheck{
		"session": func(context.Context) error { return nil },
	})
	return &testApp{app: app, store: store, auth: ma, router: router}
}

func (ta *testApp) login(t *testing.T, token string) {
	t.Helper()
	require.NoError(t, ta.store.SetSession(context.Background(), session.Session{
		AccessToken: token,
		UserProfile: map[string]any{"username": "alice"},
	}))
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func gatewayJSON(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

// ─── Views ────────────────────────────────────────────────────────────────────

func TestView_ProtectedWithoutSessionRedirectsToLogin(t *testing.T) {
	ta := newTestApp(t, nil)
	resp, _ := doRequest(t, ta.app, http.MethodGet, "/dept", "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestView_LoginWhileAuthenticatedRedirectsHome(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.login(t, "tok")
	resp, _ := doRequest(t, ta.app, http.MethodGet, "/login", "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestView_AuthenticatedSeesView(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.login(t, "tok")
	resp, body := doRequest(t, ta.app, http.MethodGet, "/dept", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Dept", body["view"])
	assert.Equal(t, "/dept", ta.router.Current())
}

func TestView_HomeAliasRedirects(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.login(t, "tok")
	resp, _ := doRequest(t, ta.app, http.MethodGet, "/home", "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

// ─── Auth endpoints ───────────────────────────────────────────────────────────

func TestLogin_Success(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.auth.loginFn = func(ctx context.Context, p auth.LoginParams) (*httpclient.Envelope, error) {
		assert.Equal(t, "alice", p.Username)
		assert.Equal(t, "pw", p.Password)
		assert.NoError(t, ta.store.SetSession(ctx, session.Session{AccessToken: "abc123"}))
		code := 200
		return &httpclient.Envelope{MsgCode: &code, Data: json.RawMessage(`"abc123"`)}, nil
	}

	resp, body := doRequest(t, ta.app, http.MethodPost, "/login", `{"username":" alice ","password":"pw","captchaId":"c","captchaCode":"1"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "/", body["redirect"])
}

func TestLogin_NonAuthBusinessCodeRelayedInEnvelope(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.auth.loginFn = func(context.Context, auth.LoginParams) (*httpclient.Envelope, error) {
		code := 4001
		return &httpclient.Envelope{MsgCode: &code, Message: "captcha mismatch"}, nil
	}

	resp, body := doRequest(t, ta.app, http.MethodPost, "/login", `{"username":"alice","password":"pw"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["authenticated"])
	assert.Nil(t, body["redirect"])
	env, ok := body["envelope"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 4001, env["msgCode"])
	assert.Equal(t, "captcha mismatch", env["message"])
}

func TestLogin_ValidationError(t *testing.T) {
	ta := newTestApp(t, nil)
	resp, body := doRequest(t, ta.app, http.MethodPost, "/login", `{"username":"alice"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "password")
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
		redirect   bool
	}{
		{"timeout", &httpclient.RequestError{Kind: httpclient.KindTimeout, Message: "timed out"}, 504, "timeout", false},
		{"network", &httpclient.RequestError{Kind: httpclient.KindNetwork, Cause: httpclient.CauseRefused, Err: errors.New("refused")}, 502, "network", false},
		{"http status", &httpclient.RequestError{Kind: httpclient.KindHTTPStatus, Status: 503, Message: "down"}, 503, "http_status", false},
		{"http 401", &httpclient.RequestError{Kind: httpclient.KindHTTPStatus, Status: 401, Message: "expired"}, 401, "http_status", true},
		{"business 401", &httpclient.RequestError{Kind: httpclient.KindBusiness, Code: 401, Message: "expired"}, 401, "business", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t, nil)
			ta.auth.loginFn = func(context.Context, auth.LoginParams) (*httpclient.Envelope, error) {
				return nil, tc.err
			}
			resp, body := doRequest(t, ta.app, http.MethodPost, "/login", `{"username":"a","password":"b"}`)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, tc.wantKind, body["kind"])
			if tc.redirect {
				assert.Equal(t, "/login", body["redirect"])
			} else {
				assert.Nil(t, body["redirect"])
			}
		})
	}
}

func TestLogin_NetworkErrorCarriesHint(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.auth.loginFn = func(context.Context, auth.LoginParams) (*httpclient.Envelope, error) {
		return nil, &httpclient.RequestError{Kind: httpclient.KindNetwork, Cause: httpclient.CauseDNS, Err: errors.New("no such host")}
	}
	_, body := doRequest(t, ta.app, http.MethodPost, "/login", `{"username":"a","password":"b"}`)
	assert.Equal(t, "dns", body["cause"])
	assert.NotEmpty(t, body["hint"])
}

func TestLogout_AlwaysLogsOut(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.login(t, "tok")
	ta.auth.logoutErr = &httpclient.RequestError{Kind: httpclient.KindHTTPStatus, Status: 500, Message: "boom"}

	resp, body := doRequest(t, ta.app, http.MethodPost, "/logout", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["loggedOut"])
	assert.False(t, ta.store.IsAuthenticated())
	assert.Equal(t, "/login", ta.router.Current())
}

func TestCaptcha(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.auth.captchaFn = func(context.Context) (*auth.Captcha, error) {
		return &auth.Captcha{CaptchaID: "id", CaptchaImage: "img"}, nil
	}
	resp, body := doRequest(t, ta.app, http.MethodGet, "/captcha", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "id", body["captchaId"])
}

func TestSession_MasksTokenAndReadsExpiry(t *testing.T) {
	ta := newTestApp(t, nil)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice", "exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	ta.login(t, tok)

	resp, body := doRequest(t, ta.app, http.MethodGet, "/session", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "alice", body["subject"])
	assert.NotEqual(t, tok, body["token"])
	assert.True(t, strings.HasSuffix(body["token"].(string), "..."))
	assert.NotEmpty(t, body["expiresAt"])
}

// ─── System collections ───────────────────────────────────────────────────────

func TestSystem_RequiresSession(t *testing.T) {
	ta := newTestApp(t, gatewayJSON(200, map[string]any{}))
	resp, body := doRequest(t, ta.app, http.MethodGet, "/api/system/dept", "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "/login", body["redirect"])
}

func TestSystem_ListProxiesToGateway(t *testing.T) {
	var gotURI string
	var gotAuth []string
	ta := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		gotAuth = r.Header.Values("authorization")
		gatewayJSON(200, map[string]any{"data": map[string]any{
			"records": []map[string]any{{"id": 1, "username": "bob", "status": 1}},
			"total":   1,
		}})(w, r)
	})
	ta.login(t, "tok")

	resp, body := doRequest(t, ta.app, http.MethodGet, "/api/system/user?pageNum=2&pageSize=20", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "/oneself-system/user/page?pageNum=2&pageSize=20", gotURI)
	assert.Equal(t, []string{"tok"}, gotAuth)
	records := body["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "bob", records[0].(map[string]any)["username"])
}

func TestSystem_Business401ClearsSessionAndRedirects(t *testing.T) {
	ta := newTestApp(t, gatewayJSON(200, map[string]any{"msgCode": 401, "message": "token expired"}))
	ta.login(t, "tok")
	_, _, err := ta.router.Navigate("/dept")
	require.NoError(t, err)

	resp, body := doRequest(t, ta.app, http.MethodDelete, "/api/system/dept/9", "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "/login", body["redirect"])
	assert.Equal(t, "token expired", body["error"])
	assert.False(t, ta.store.IsAuthenticated())
	assert.Equal(t, "/login", ta.router.Current())
}

func TestSystem_CreateAndBadBody(t *testing.T) {
	var gotBody string
	ta := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gatewayJSON(200, map[string]any{"msgCode": 200, "message": "created"})(w, r)
	})
	ta.login(t, "tok")

	resp, body := doRequest(t, ta.app, http.MethodPost, "/api/system/role", `{"roleName":"Auditor","roleKey":"audit","status":1}`)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", body["message"])
	assert.JSONEq(t, `{"roleName":"Auditor","roleKey":"audit","status":1}`, gotBody)

	resp, _ = doRequest(t, ta.app, http.MethodPost, "/api/system/role", `{"roleName":`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSystem_UnknownResource(t *testing.T) {
	ta := newTestApp(t, gatewayJSON(200, map[string]any{}))
	ta.login(t, "tok")
	resp, _ := doRequest(t, ta.app, http.MethodGet, "/api/system/menu", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ta := newTestApp(t, nil)
	resp, body := doRequest(t, ta.app, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
