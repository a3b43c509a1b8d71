package preview

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RegistryConfig controls session lifetime.
type RegistryConfig struct {
	IdleTTL           time.Duration
	SweepInterval     time.Duration
	NotificationLimit int
	// MaxSessions caps live controllers; the least recently active one is
	// stopped to make room.
	MaxSessions int
}

// Registry holds one Controller per browser session and reaps idle ones.
type Registry struct {
	svc      ImageService
	notifier Notifier
	cfg      RegistryConfig
	log      zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	ctrl   *Controller
	cancel context.CancelFunc
}

func NewRegistry(svc ImageService, notifier Notifier, cfg RegistryConfig, log zerolog.Logger) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.IdleTTL / 4
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		svc:      svc,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		baseCtx:  ctx,
		cancel:   cancel,
		sessions: make(map[string]*entry),
	}
}

// Get returns the controller for id, starting one if needed.
func (r *Registry) Get(id string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[id]; ok {
		select {
		case <-e.ctrl.Done():
			delete(r.sessions, id)
		default:
			return e.ctrl
		}
	}

	if len(r.sessions) >= r.cfg.MaxSessions {
		r.evictOldest()
	}

	opts := []Option{
		WithLogger(r.log),
		WithNotificationLimit(r.cfg.NotificationLimit),
	}
	if r.notifier != nil {
		opts = append(opts, WithNotifier(r.notifier))
	}
	ctrl := New(id, r.svc, opts...)
	ctx, cancel := context.WithCancel(r.baseCtx)
	go ctrl.Run(ctx)

	r.sessions[id] = &entry{ctrl: ctrl, cancel: cancel}
	sessionsActive.Set(float64(len(r.sessions)))
	r.log.Debug().Str("session_id", id).Msg("preview_session_started")
	return ctrl
}

// evictOldest stops the least recently active session. r.mu must be held.
func (r *Registry) evictOldest() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range r.sessions {
		if since := e.ctrl.IdleSince(); oldestID == "" || since.Before(oldest) {
			oldestID, oldest = id, since
		}
	}
	if e, ok := r.sessions[oldestID]; ok {
		e.cancel()
		delete(r.sessions, oldestID)
		sessionsEvicted.Inc()
		r.log.Warn().Str("session_id", oldestID).Int("max_sessions", r.cfg.MaxSessions).Msg("preview_session_evicted")
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run sweeps idle sessions until ctx is done, then stops every session.
func (r *Registry) Run(ctx context.Context) {
	r.log.Info().Dur("idle_ttl", r.cfg.IdleTTL).Msg("session reaper started")
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			r.log.Info().Msg("session reaper stopped")
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Sweep stops sessions idle for longer than IdleTTL and returns how many.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.sessions {
		if now.Sub(e.ctrl.IdleSince()) < r.cfg.IdleTTL {
			continue
		}
		e.cancel()
		delete(r.sessions, id)
		n++
	}
	sessionsActive.Set(float64(len(r.sessions)))
	if n > 0 {
		r.log.Info().Int("count", n).Msg("reaped idle preview sessions")
	}
	return n
}

func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()
	sessionsActive.Set(0)
}
