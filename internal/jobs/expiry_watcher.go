package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/session"
)

// Credentials is the part of the session store the watcher needs.
type Credentials interface {
	Credential() (token string, generation uint64)
	Invalidate(ctx context.Context, generation uint64) (bool, error)
}

// ExpiryWatcher periodically inspects the stored access token and clears the
// session once its exp claim has passed. Opaque tokens are left alone; the
// gateway's 401 handles those.
type ExpiryWatcher struct {
	logger    *zap.Logger
	creds     Credentials
	interval  time.Duration
	leeway    time.Duration
	onExpired func()
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewExpiryWatcher builds a watcher. onExpired runs after a clear, e.g. to
// redirect to login; it may be nil.
func NewExpiryWatcher(logger *zap.Logger, creds Credentials, interval, leeway time.Duration, onExpired func()) *ExpiryWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryWatcher{
		logger:    logger,
		creds:     creds,
		interval:  interval,
		leeway:    leeway,
		onExpired: onExpired,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the check loop until Stop or ctx is done.
func (w *ExpiryWatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("expiry_watcher.started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ticker.C:
			w.CheckOnce(ctx)
		case <-w.stopCh:
			w.logger.Info("expiry_watcher.stopped (manual stop)")
			return
		case <-ctx.Done():
			w.logger.Info("expiry_watcher.stopped (context canceled)")
			return
		}
	}
}

// Stop halts the loop. Safe to call more than once.
func (w *ExpiryWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// CheckOnce clears the session if its token has expired and reports whether it did.
func (w *ExpiryWatcher) CheckOnce(ctx context.Context) bool {
	token, gen := w.creds.Credential()
	if token == "" {
		return false
	}
	exp, ok := session.TokenExpiry(token)
	if !ok || w.now().Before(exp.Add(-w.leeway)) {
		return false
	}

	cleared, err := w.creds.Invalidate(ctx, gen)
	if err != nil {
		w.logger.Warn("expiry_watcher.clear_failed", zap.Error(err))
	}
	if !cleared {
		return false
	}
	w.logger.Info("expiry_watcher.session_expired", zap.Time("expired_at", exp))
	if w.onExpired != nil {
		w.onExpired()
	}
	return true
}
