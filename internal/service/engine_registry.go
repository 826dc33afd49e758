package service

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-inbox/internal/observability"
	"github.com/noah-isme/gema-inbox/internal/session"
)

const (
	defaultIdleTTL    = 15 * time.Minute
	defaultReapSpec   = "@every 1m"
	registryComponent = "engine_registry"
)

// RegistryConfig tunes engine lifetime.
type RegistryConfig struct {
	Inbox    InboxConfig
	IdleTTL  time.Duration
	ReapSpec string
}

// EngineRegistry keeps one running inbox per identity and closes those left idle.
type EngineRegistry struct {
	deps   InboxDeps
	cfg    RegistryConfig
	logger zerolog.Logger
	now    func() time.Time
	reaper *cron.Cron

	mu      sync.Mutex
	engines map[string]*registryEntry
	closed  bool
}

type registryEntry struct {
	engine   *InboxEngine
	lastUsed time.Time
}

// NewEngineRegistry constructs a registry. Call Start to enable idle reaping.
func NewEngineRegistry(deps InboxDeps, cfg RegistryConfig, logger zerolog.Logger) *EngineRegistry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.ReapSpec == "" {
		cfg.ReapSpec = defaultReapSpec
	}
	return &EngineRegistry{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With().Str("component", registryComponent).Logger(),
		now:     time.Now,
		engines: make(map[string]*registryEntry),
	}
}

// Start schedules the idle reaper.
func (r *EngineRegistry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reaper != nil {
		return nil
	}

	reaper := cron.New(cron.WithLogger(cronLogger{logger: r.logger}))
	if _, err := reaper.AddFunc(r.cfg.ReapSpec, func() { r.ReapIdle() }); err != nil {
		return err
	}
	reaper.Start()
	r.reaper = reaper
	return nil
}

// Acquire returns the running inbox for identity, starting one on first use.
func (r *EngineRegistry) Acquire(identity session.Identity) (*InboxEngine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrEngineClosed
	}

	key := identity.Key()
	if entry, ok := r.engines[key]; ok && entry.engine.Session().Active() {
		entry.lastUsed = r.now()
		return entry.engine, nil
	}

	engine := NewInboxEngine(session.New(identity), r.deps, r.cfg.Inbox, r.logger)
	engine.Start()
	r.engines[key] = &registryEntry{engine: engine, lastUsed: r.now()}
	observability.InboxEnginesActive().Set(float64(len(r.engines)))
	r.logger.Info().Str("user", key).Msg("inbox started")
	return engine, nil
}

// Lookup returns the running inbox for identity without creating one.
func (r *EngineRegistry) Lookup(identity session.Identity) (*InboxEngine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.engines[identity.Key()]
	if !ok || !entry.engine.Session().Active() {
		return nil, false
	}
	entry.lastUsed = r.now()
	return entry.engine, true
}

// Release closes the inbox for identity.
func (r *EngineRegistry) Release(identity session.Identity) bool {
	r.mu.Lock()
	entry, ok := r.engines[identity.Key()]
	if ok {
		delete(r.engines, identity.Key())
		observability.InboxEnginesActive().Set(float64(len(r.engines)))
	}
	r.mu.Unlock()

	if ok {
		entry.engine.Close()
	}
	return ok
}

// ReapIdle closes every inbox unused for longer than the idle TTL and returns how many it closed.
func (r *EngineRegistry) ReapIdle() int {
	cutoff := r.now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var idle []*InboxEngine
	for key, entry := range r.engines {
		if entry.lastUsed.Before(cutoff) || !entry.engine.Session().Active() {
			idle = append(idle, entry.engine)
			delete(r.engines, key)
		}
	}
	observability.InboxEnginesActive().Set(float64(len(r.engines)))
	r.mu.Unlock()

	for _, engine := range idle {
		engine.Close()
	}
	if len(idle) > 0 {
		r.logger.Info().Int("closed", len(idle)).Msg("reaped idle inboxes")
	}
	return len(idle)
}

// Len returns the number of running inboxes.
func (r *EngineRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Shutdown stops the reaper and closes every inbox.
func (r *EngineRegistry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	reaper := r.reaper
	r.reaper = nil
	engines := make([]*InboxEngine, 0, len(r.engines))
	for _, entry := range r.engines {
		engines = append(engines, entry.engine)
	}
	r.engines = make(map[string]*registryEntry)
	observability.InboxEnginesActive().Set(0)
	r.mu.Unlock()

	if reaper != nil {
		<-reaper.Stop().Done()
	}
	for _, engine := range engines {
		engine.Close()
	}
}
