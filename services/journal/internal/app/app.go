package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"mentalia/internal/premiumtoken"
	"mentalia/pkg/domain"
	"mentalia/pkg/storage"
	"mentalia/pkg/store"
	"mentalia/pkg/vault"
)

// RetryPolicy controls how initialization is retried.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = 200 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	return p
}

// PremiumChecker asks the checkout service about a subscription.
type PremiumChecker interface {
	CheckPremium(ctx context.Context, email string) (domain.PremiumStatus, error)
}

// Config holds runtime configuration for the journal.
type Config struct {
	DatabaseURL string
	// Store overrides DatabaseURL, mostly for tests.
	Store          store.EntryStore
	KeyFile        string
	Location       *time.Location
	Retry          RetryPolicy
	DecryptWorkers int
	// Objects enables Backup and Restore when set.
	Objects storage.ObjectStore
	Premium PremiumChecker
	// PremiumVerifier validates cached premium tokens offline.
	PremiumVerifier *premiumtoken.Verifier
	Events          chan<- domain.Event
	Logger          *slog.Logger
	Now             func() time.Time
}

// App is the journal service: encrypted persistence of mood entries and
// settings, with statistics, export and backups on top.
type App struct {
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	loc     *time.Location
	workers int

	init singleflight.Group

	mu     sync.RWMutex
	store  store.EntryStore
	cipher *vault.Cipher
	ready  bool
	closed bool

	idMu   sync.Mutex
	lastID int64
}

// New only wires dependencies; nothing touches disk until Open.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil && cfg.DatabaseURL == "" {
		return nil, errors.New("database URL required")
	}
	if cfg.KeyFile == "" {
		return nil, errors.New("key file required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	workers := cfg.DecryptWorkers
	if workers <= 0 {
		workers = 8
	}
	cfg.Retry = cfg.Retry.withDefaults()
	return &App{
		cfg:     cfg,
		logger:  logger.With("component", "journal"),
		now:     now,
		loc:     loc,
		workers: workers,
	}, nil
}

// Open initializes storage and the encryption key. It is safe to call
// concurrently and repeatedly; callers share one in-flight attempt.
func (a *App) Open(ctx context.Context) error {
	_, err := a.ensureOpen(ctx)
	return err
}

type handle struct {
	store  store.EntryStore
	cipher *vault.Cipher
}

func (a *App) ensureOpen(ctx context.Context) (handle, error) {
	if h, ok, err := a.current(); ok || err != nil {
		return h, err
	}
	ch := a.init.DoChan("open", func() (any, error) {
		if h, ok, err := a.current(); ok || err != nil {
			return h, err
		}
		return a.openWithRetry(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return handle{}, res.Err
		}
		return res.Val.(handle), nil
	case <-ctx.Done():
		return handle{}, ctx.Err()
	}
}

func (a *App) current() (handle, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return handle{}, false, ErrClosed
	}
	if !a.ready {
		return handle{}, false, nil
	}
	return handle{store: a.store, cipher: a.cipher}, true, nil
}

func (a *App) openWithRetry(ctx context.Context) (handle, error) {
	policy := a.cfg.Retry
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.Multiplier = policy.Multiplier
	exp.MaxInterval = policy.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		h, err := a.openOnce(ctx)
		if err == nil {
			return h, nil
		}
		lastErr = err
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return handle{}, perm.Err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		wait := exp.NextBackOff()
		a.logger.Warn("storage init failed, retrying", "attempt", attempt, "wait", wait, "err", err)
		domain.Emit(a.cfg.Events, domain.StorageRetry{Attempt: attempt, Wait: wait, Err: err})
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return handle{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, ctx.Err())
		}
	}
	a.logger.Error("storage init gave up", "attempts", policy.MaxAttempts, "err", lastErr)
	return handle{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, lastErr)
}

func (a *App) openOnce(ctx context.Context) (handle, error) {
	key, created, err := vault.LoadOrCreateKey(a.cfg.KeyFile)
	if err != nil {
		if errors.Is(err, vault.ErrInvalidKey) {
			// a corrupt key file will not heal on retry
			return handle{}, backoff.Permanent(fmt.Errorf("load key: %w", err))
		}
		return handle{}, fmt.Errorf("load key: %w", err)
	}
	if created {
		a.logger.Info("generated new encryption key", "path", a.cfg.KeyFile)
	}
	c, err := vault.NewCipher(key)
	if err != nil {
		return handle{}, backoff.Permanent(err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return handle{}, backoff.Permanent(ErrClosed)
	}
	s := a.store
	if s == nil {
		s = a.cfg.Store
	}
	if s == nil {
		gs, err := store.NewGormStore(a.cfg.DatabaseURL)
		if err != nil {
			return handle{}, fmt.Errorf("open store: %w", err)
		}
		s = gs
	}
	// keep the handle across attempts so a failed migrate doesn't leak connections
	a.store = s
	if err := s.Migrate(ctx); err != nil {
		return handle{}, fmt.Errorf("migrate: %w", err)
	}
	existing, err := s.ListEntries(ctx)
	if err != nil {
		return handle{}, fmt.Errorf("scan entries: %w", err)
	}
	for _, e := range existing {
		a.observeID(e.ID)
	}
	a.cipher = c
	a.ready = true
	return handle{store: s, cipher: c}, nil
}

// Close releases the store. Later calls fail with ErrClosed.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.ready = false
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *App) nextID(now time.Time) int64 {
	a.idMu.Lock()
	defer a.idMu.Unlock()
	id := now.UnixMilli()
	if id <= a.lastID {
		id = a.lastID + 1
	}
	a.lastID = id
	return id
}

func (a *App) observeID(id int64) {
	a.idMu.Lock()
	if id > a.lastID {
		a.lastID = id
	}
	a.idMu.Unlock()
}
