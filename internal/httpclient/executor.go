package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/metrics"
	"github.com/Checker-Finance/oneself-console/pkg/utils"
)

const (
	// DefaultTimeout bounds a whole round trip, body read included.
	DefaultTimeout = 30 * time.Second
	// DefaultCredentialHeader is the lowercase header the gateway reads the raw token from.
	DefaultCredentialHeader = "authorization"

	unauthenticatedCode = 401
	defaultAuthMessage  = "token is invalid or expired, please log in again"
)

// Session is the slice of the session store the executor depends on: it reads
// the current credential and may ask for it to be invalidated, nothing else.
type Session interface {
	// Credential returns the stored access token ("" when absent) and the
	// session generation it belongs to.
	Credential() (token string, generation uint64)
	// Invalidate clears the session if it is still at generation and reports whether it did.
	Invalidate(ctx context.Context, generation uint64) (bool, error)
}

// Config tunes an Executor. Zero values fall back to the defaults above.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	CredentialHeader string
	// OnAuthLost runs after a 401 actually cleared the session, e.g. to navigate to login.
	OnAuthLost func()
}

// Executor sends gateway requests with a bounded round trip and classifies the outcome.
// It never retries.
type Executor struct {
	logger     *zap.Logger
	http       *http.Client
	session    Session
	baseURL    string
	timeout    time.Duration
	header     string
	onAuthLost func()
}

// New creates an Executor. session may be nil for calls that never carry credentials.
func New(logger *zap.Logger, httpClient *http.Client, session Session, cfg Config) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CredentialHeader == "" {
		cfg.CredentialHeader = DefaultCredentialHeader
	}
	return &Executor{
		logger:     logger,
		http:       httpClient,
		session:    session,
		baseURL:    cfg.BaseURL,
		timeout:    cfg.Timeout,
		header:     cfg.CredentialHeader,
		onAuthLost: cfg.OnAuthLost,
	}
}

// SetOnAuthLost replaces the callback run after a 401 clears the session.
// Call it during wiring, before the executor is shared.
func (e *Executor) SetOnAuthLost(fn func()) { e.onAuthLost = fn }

// BaseURL returns the default base URL paths are resolved against.
func (e *Executor) BaseURL() string { return e.baseURL }

// Send issues the call described by d and returns the parsed body.
//
// Transport outcomes are reported as *RequestError. A descriptor that cannot be
// turned into a request (unencodable body, malformed URL) fails before any I/O
// with a plain error.
func (e *Executor) Send(ctx context.Context, d Descriptor) (*Envelope, error) {
	method := d.method()
	fullURL := d.resolveURL(e.baseURL)

	payload, err := d.encodeBody()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, fullURL, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Request-Id", uuid.NewString())
	token, generation := d.Token, uint64(0)
	for k, v := range d.Headers {
		// A caller-supplied credential header counts as an explicit token.
		if strings.EqualFold(k, e.header) {
			if token == "" {
				token = v
			}
			continue
		}
		req.Header.Set(k, v)
	}
	if e.session != nil {
		stored, gen := e.session.Credential()
		generation = gen
		if token == "" && !d.Anonymous {
			token = stored
		}
	}
	if token != "" {
		for k := range req.Header {
			if strings.EqualFold(k, e.header) {
				delete(req.Header, k)
			}
		}
		// Assigned directly so the key goes out lowercase, as the gateway expects.
		req.Header[e.header] = []string{token}
	}

	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, e.fail(start, e.transportError(callCtx, method, fullURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.fail(start, e.transportError(callCtx, method, fullURL, err))
	}

	env, rerr := e.classify(ctx, method, fullURL, resp, raw, generation)
	if rerr != nil {
		return nil, e.fail(start, rerr)
	}

	metrics.IncGatewayRequest(method, "ok")
	metrics.ObserveDuration(metrics.GatewayRequestDuration, start, method)
	e.logger.Debug("gateway.http_success",
		zap.String("method", method),
		zap.String("url", fullURL),
		zap.Int("status", resp.StatusCode),
		zap.Bool("credential", token != ""),
		zap.String("token", utils.MaskToken(token)),
		zap.Duration("elapsed", time.Since(start)))
	return env, nil
}

// transportError turns a failure with no usable response into Timeout or Network.
// The deadline check comes first: a call cut off by the timer is a timeout no
// matter what error the transport surfaced.
func (e *Executor) transportError(callCtx context.Context, method, url string, err error) *RequestError {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &RequestError{Kind: KindTimeout, Method: method, URL: url, Message: "request timed out", Err: err}
	}
	cause := classifyNetwork(err)
	return &RequestError{
		Kind:    KindNetwork,
		Method:  method,
		URL:     url,
		Message: "request failed",
		Cause:   cause,
		Err:     err,
	}
}

func (e *Executor) classify(ctx context.Context, method, url string, resp *http.Response, raw []byte, generation uint64) (*Envelope, *RequestError) {
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	var env *Envelope
	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json")
	if isJSON {
		env, isJSON = parseEnvelope(raw)
	}

	if isJSON {
		// The gateway may report an expired session inside a 200 envelope, so this
		// check runs before the HTTP status is looked at.
		if env.MsgCode != nil && *env.MsgCode == unauthenticatedCode {
			e.invalidate(ctx, generation, "business_401", url)
			msg := env.Message
			if msg == "" {
				msg = defaultAuthMessage
			}
			return nil, &RequestError{
				Kind:    KindBusiness,
				Method:  method,
				URL:     url,
				Status:  resp.StatusCode,
				Code:    unauthenticatedCode,
				Message: msg,
				Body:    raw,
			}
		}
		if !ok {
			if resp.StatusCode == unauthenticatedCode {
				e.invalidate(ctx, generation, "http_401", url)
			}
			msg := env.Message
			if msg == "" {
				msg = fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
			}
			return nil, &RequestError{
				Kind:    KindHTTPStatus,
				Method:  method,
				URL:     url,
				Status:  resp.StatusCode,
				Code:    bodyCode(env.Fields),
				Message: msg,
				Body:    raw,
			}
		}
		return env, nil
	}

	text := string(raw)
	if !ok {
		if resp.StatusCode == unauthenticatedCode {
			e.invalidate(ctx, generation, "http_401", url)
		}
		msg := text
		if msg == "" {
			msg = fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
		}
		return nil, &RequestError{
			Kind:    KindHTTPStatus,
			Method:  method,
			URL:     url,
			Status:  resp.StatusCode,
			Message: msg,
			Body:    raw,
		}
	}
	return &Envelope{Text: text}, nil
}

// invalidate clears the session after an authentication failure. The clear runs
// detached from the call context so an expiring caller cannot leave it half done.
func (e *Executor) invalidate(ctx context.Context, generation uint64, reason, url string) {
	if e.session == nil {
		return
	}
	cleared, err := e.session.Invalidate(context.WithoutCancel(ctx), generation)
	if err != nil {
		e.logger.Warn("gateway.session_clear_failed",
			zap.String("reason", reason),
			zap.Error(err))
	}
	if !cleared {
		e.logger.Info("gateway.stale_auth_failure",
			zap.String("reason", reason),
			zap.String("url", url),
			zap.Uint64("generation", generation))
		return
	}

	e.logger.Warn("gateway.session_invalidated",
		zap.String("reason", reason),
		zap.String("url", url))
	if e.onAuthLost != nil {
		e.onAuthLost()
	}
}

func (e *Executor) fail(start time.Time, err *RequestError) *RequestError {
	metrics.IncGatewayRequest(err.Method, err.Kind.String())
	metrics.ObserveDuration(metrics.GatewayRequestDuration, start, err.Method)

	fields := []zap.Field{
		zap.String("method", err.Method),
		zap.String("url", err.URL),
		zap.String("kind", err.Kind.String()),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch err.Kind {
	case KindNetwork:
		fields = append(fields, zap.String("cause", string(err.Cause)), zap.String("hint", err.Hint()), zap.Error(err.Err))
	case KindHTTPStatus:
		fields = append(fields, zap.Int("status", err.Status), zap.String("message", err.Message))
	case KindBusiness:
		fields = append(fields, zap.Int("code", err.Code), zap.String("message", err.Message))
	}
	e.logger.Warn("gateway.http_failed", fields...)
	return err
}
