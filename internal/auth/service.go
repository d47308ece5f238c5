package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/crypto"
	"github.com/Checker-Finance/oneself-console/internal/httpclient"
	"github.com/Checker-Finance/oneself-console/internal/metrics"
	"github.com/Checker-Finance/oneself-console/internal/publisher"
	"github.com/Checker-Finance/oneself-console/internal/session"
	"github.com/Checker-Finance/oneself-console/pkg/model"
	"github.com/Checker-Finance/oneself-console/pkg/utils"
)

// Gateway paths under the auth base URL.
const (
	PathCaptcha = "/auth/captcha"
	PathLogin   = "/auth/login"
	PathLogout  = "/auth/logout"
	PathRefresh = "/auth/refresh"
)

// ErrMissingCredentials is returned by Login before any I/O when the username
// or password is empty.
var ErrMissingCredentials = errors.New("username and password are required")

// Sender is the transport the service talks to the gateway through.
type Sender interface {
	Send(ctx context.Context, d httpclient.Descriptor) (*httpclient.Envelope, error)
}

// KeySource supplies the RSA public key used to encrypt passwords.
type KeySource interface {
	PublicKey(ctx context.Context) (string, error)
}

// StaticKey is a KeySource over a fixed key.
type StaticKey string

func (k StaticKey) PublicKey(context.Context) (string, error) { return string(k), nil }

// Captcha is the challenge returned by the gateway.
type Captcha struct {
	CaptchaID    string `json:"captchaId"`
	CaptchaImage string `json:"captchaImage"`
}

// LoginParams are the operator's credentials. Password is plain text; it is
// encrypted before it leaves the process.
type LoginParams struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	CaptchaID   string `json:"captchaId"`
	CaptchaCode string `json:"captchaCode"`
}

// Service implements the login workflow on top of the transport and session store.
type Service struct {
	logger    *zap.Logger
	gateway   Sender
	keys      KeySource
	store     *session.Store
	publisher publisher.Publisher
	service   string
}

// NewService wires the auth workflow. pub may be nil.
func NewService(
	logger *zap.Logger,
	gateway Sender,
	keys KeySource,
	store *session.Store,
	pub publisher.Publisher,
	serviceName string,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = publisher.Noop{}
	}
	return &Service{
		logger:    logger,
		gateway:   gateway,
		keys:      keys,
		store:     store,
		publisher: pub,
		service:   serviceName,
	}
}

// Captcha fetches a fresh captcha challenge.
func (s *Service) Captcha(ctx context.Context) (*Captcha, error) {
	env, err := s.gateway.Send(ctx, httpclient.Get(PathCaptcha))
	if err != nil {
		return nil, err
	}
	c := &Captcha{}
	if env.HasData() {
		if err := env.Decode(c); err != nil {
			return nil, err
		}
	} else {
		c.CaptchaID = env.StringField("captchaId")
		c.CaptchaImage = env.StringField("captchaImage")
	}
	return c, nil
}

// Login encrypts the password, authenticates, and persists whatever token,
// refresh token and profile the response carries in one session write.
//
// A response without a recognizable token still succeeds; the session then
// holds only the profile and stays unauthenticated.
func (s *Service) Login(ctx context.Context, p LoginParams) (*httpclient.Envelope, error) {
	if p.Username == "" || p.Password == "" {
		return nil, ErrMissingCredentials
	}

	pub, err := s.keys.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEncryptFailed, err)
	}
	encrypted, err := crypto.EncryptPassword(p.Password, pub)
	if err != nil {
		s.logger.Error("auth.encrypt_failed", zap.Error(err))
		return nil, err
	}

	d := httpclient.Post(PathLogin, LoginParams{
		Username:    p.Username,
		Password:    encrypted,
		CaptchaID:   p.CaptchaID,
		CaptchaCode: p.CaptchaCode,
	})
	d.Anonymous = true

	env, err := s.gateway.Send(ctx, d)
	if err != nil {
		s.logger.Warn("auth.login_failed", zap.String("username", p.Username), zap.Error(err))
		return nil, err
	}

	// A login always starts a new session; nothing from a previous user survives.
	update := session.Session{UserProfile: session.ExtractProfile(env, p.Username)}
	token, shape, ok := session.ExtractToken(env)
	if ok {
		update.AccessToken = token
	} else {
		s.logger.Warn("auth.login_no_token", zap.String("username", p.Username))
	}
	if rt, ok := session.ExtractRefreshToken(env); ok {
		update.RefreshToken = rt
	}

	if err := s.store.Replace(ctx, update); err != nil {
		return env, fmt.Errorf("persist session: %w", err)
	}

	s.logger.Info("auth.login_success",
		zap.String("username", p.Username),
		zap.String("token_shape", shape),
		zap.String("token", utils.MaskToken(token)),
		zap.Bool("refresh_token", update.RefreshToken != ""))
	if ok {
		s.emit(ctx, model.EventLogin, p.Username, "")
	}
	return env, nil
}

// Logout tells the gateway and clears the local session whatever the gateway
// answered. The gateway error, if any, is still returned.
func (s *Service) Logout(ctx context.Context) (*httpclient.Envelope, error) {
	username := s.username()
	env, sendErr := s.gateway.Send(ctx, httpclient.Delete(PathLogout, nil))
	if sendErr != nil {
		s.logger.Warn("auth.logout_gateway_failed", zap.Error(sendErr))
	}

	if err := s.store.Clear(ctx); err != nil {
		return env, errors.Join(sendErr, err)
	}
	s.logger.Info("auth.logout", zap.String("username", username))
	s.emit(ctx, model.EventLogout, username, "")
	return env, sendErr
}

// Refresh exchanges the current token for a new one and stores it.
func (s *Service) Refresh(ctx context.Context) (*httpclient.Envelope, error) {
	env, err := s.gateway.Send(ctx, httpclient.Post(PathRefresh, nil))
	if err != nil {
		return nil, err
	}

	token, _, ok := session.ExtractToken(env)
	if !ok {
		s.logger.Warn("auth.refresh_no_token")
		return env, nil
	}
	update := session.Session{AccessToken: token}
	if rt, ok := session.ExtractRefreshToken(env); ok {
		update.RefreshToken = rt
	}
	if err := s.store.SetSession(ctx, update); err != nil {
		return env, fmt.Errorf("persist session: %w", err)
	}
	s.logger.Info("auth.token_refreshed", zap.String("token", utils.MaskToken(token)))
	s.emit(ctx, model.EventRefreshed, s.username(), "")
	return env, nil
}

// AuthLost records that the gateway rejected the session.
func (s *Service) AuthLost(ctx context.Context, reason string) {
	s.emit(ctx, model.EventAuthLost, "", reason)
}

func (s *Service) username() string {
	profile, ok := s.store.UserProfile()
	if !ok {
		return ""
	}
	for _, k := range []string{"username", "name"} {
		if v, ok := profile[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// emit publishes a session event. Failures are logged and never surface.
func (s *Service) emit(ctx context.Context, eventType, username, reason string) {
	metrics.IncSessionEvent(eventType)
	evt := model.NewSessionEvent(eventType, s.service, username)
	evt.Reason = reason
	if err := s.publisher.PublishSessionEvent(ctx, evt); err != nil {
		s.logger.Warn("auth.event_publish_failed",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
