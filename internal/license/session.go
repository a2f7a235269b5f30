package license

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "cardkeyd/internal/errors"
)

// LocalTrust is the read-only result of evaluating the cached verification
// against this machine and the current time.
type LocalTrust struct {
	Valid         bool      `json:"valid"`
	Key           string    `json:"key,omitempty"`
	CardType      string    `json:"card_type,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	DaysRemaining int       `json:"days_remaining"`
	Message       string    `json:"message,omitempty"`
}

// TrustFailure is handed to the trust-loss callback when the heartbeat finds
// local trust invalid. Deciding what to do about it (shut down, prompt for a
// key) is the receiver's business.
type TrustFailure struct {
	Reason string
	At     time.Time
}

// LoginSource says where a successful login got its trust from.
type LoginSource string

const (
	SourceCache   LoginSource = "cache"
	SourceNetwork LoginSource = "network"
)

// LoginResult describes a successful login.
type LoginResult struct {
	Source      LoginSource  `json:"source"`
	Message     string       `json:"message,omitempty"`
	Entitlement *Entitlement `json:"entitlement,omitempty"`
}

// SessionConfig wires a Session. Store, Client and HardwareID are required.
type SessionConfig struct {
	Store       *Store
	Client      *Client
	HardwareID  string
	Heartbeat   time.Duration
	Tick        time.Duration
	StopTimeout time.Duration
	OnTrustLost func(TrustFailure)
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Session is the login state machine. It prefers valid hardware-bound local
// trust over network verification, persists fresh verification results, and
// keeps a heartbeat monitor running while logged in.
//
// There is deliberately no package-level instance; callers construct and own
// their session.
type Session struct {
	store   *Store
	client  *Client
	hwID    string
	monitor *Monitor
	logger  *slog.Logger
	metrics *Metrics

	onTrustLost func(TrustFailure)

	mu       sync.Mutex
	loggedIn bool
	key      string
	ent      *Entitlement
}

// NewSession creates a session from the config.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session requires a store")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("session requires a client")
	}
	if cfg.HardwareID == "" {
		return nil, fmt.Errorf("session requires a hardware fingerprint")
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 5 * time.Minute
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "license_session"))

	return &Session{
		store:       cfg.Store,
		client:      cfg.Client,
		hwID:        cfg.HardwareID,
		monitor:     NewMonitor(cfg.Heartbeat, cfg.Tick, cfg.StopTimeout, logger),
		logger:      logger,
		metrics:     cfg.Metrics,
		onTrustLost: cfg.OnTrustLost,
	}, nil
}

// HardwareID returns the machine fingerprint the session is bound to.
func (s *Session) HardwareID() string {
	return s.hwID
}

// IsLoggedIn reports whether a login is currently active.
func (s *Session) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Entitlement returns the active entitlement, or nil when logged out.
func (s *Session) Entitlement() *Entitlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ent
}

// Login verifies the card key, preferring valid local trust over the
// network. A cache whose bound key differs from the presented key is not
// trusted; an unbound cache adopts the presented key and is rewritten.
// Fresh network verdicts are persisted. On success the heartbeat monitor
// is running.
func (s *Session) Login(ctx context.Context, key, userIdentifier string) (*LoginResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.ErrKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedIn {
		return nil, apperrors.ErrAlreadyLoggedIn
	}

	start := time.Now()
	res, err := s.loginLocked(ctx, key, userIdentifier)
	source := "none"
	if res != nil {
		source = string(res.Source)
	}
	s.metrics.RecordLogin(ctx, time.Since(start), source, err)
	return res, err
}

func (s *Session) loginLocked(ctx context.Context, key, userIdentifier string) (*LoginResult, error) {
	rec, trust := s.evaluateLocalTrust()
	if trust.Valid {
		switch {
		case rec.BoundKey == key:
			s.metrics.RecordCacheHit(ctx)
			s.logger.InfoContext(ctx, "login satisfied from local trust",
				slog.String("key", MaskKey(key)),
				slog.Int("days_remaining", trust.DaysRemaining))
			s.activateLocked(key, rec.Entitlement)
			return &LoginResult{Source: SourceCache, Message: rec.Message, Entitlement: rec.Entitlement}, nil

		case rec.BoundKey == "":
			// first-run accommodation: a valid unbound cache adopts the
			// presented key and is rewritten with the binding
			rec.BoundKey = key
			if rec.Entitlement != nil && rec.Entitlement.Key == "" {
				rec.Entitlement.Key = key
			}
			if err := s.store.Save(rec); err != nil {
				s.logger.WarnContext(ctx, "failed to rebind trust cache", slog.String("error", err.Error()))
			}
			s.metrics.RecordCacheHit(ctx)
			s.logger.InfoContext(ctx, "unbound local trust adopted presented key",
				slog.String("key", MaskKey(key)))
			s.activateLocked(key, rec.Entitlement)
			return &LoginResult{Source: SourceCache, Message: rec.Message, Entitlement: rec.Entitlement}, nil

		default:
			s.logger.InfoContext(ctx, "cached trust bound to a different key, reverifying",
				slog.String("cached_key", MaskKey(rec.BoundKey)),
				slog.String("presented_key", MaskKey(key)))
			s.metrics.RecordCacheMiss(ctx, "key_mismatch")
		}
	} else {
		s.metrics.RecordCacheMiss(ctx, trust.Message)
	}

	ent, msg, err := s.client.Verify(ctx, key, userIdentifier)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if ent.Key == "" {
		ent.Key = key
	}

	now := time.Now()
	if err := s.store.Save(&CacheRecord{
		HardwareID:  s.hwID,
		SavedAt:     now,
		Success:     true,
		Message:     msg,
		BoundKey:    key,
		Entitlement: ent,
	}); err != nil {
		// login still succeeds; the verdict just won't survive a restart
		s.logger.WarnContext(ctx, "failed to persist verification result", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "login verified online",
		slog.String("key", MaskKey(key)),
		slog.String("key_hash", HashKey(key)),
		slog.String("card_type", ent.CardType),
		slog.Int("days_remaining", ent.DaysRemaining(now)))
	s.activateLocked(key, ent)
	return &LoginResult{Source: SourceNetwork, Message: msg, Entitlement: ent}, nil
}

// ResumeLocal logs in purely from valid local trust, with no card key and no
// network. It fails with ErrNoLocalTrust when the cache is absent, foreign,
// expired or unbound-invalid.
func (s *Session) ResumeLocal(ctx context.Context) (*LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedIn {
		return nil, apperrors.ErrAlreadyLoggedIn
	}

	rec, trust := s.evaluateLocalTrust()
	if !trust.Valid {
		return nil, fmt.Errorf("%s: %w", trust.Message, apperrors.ErrNoLocalTrust)
	}

	s.metrics.RecordCacheHit(ctx)
	s.logger.InfoContext(ctx, "session resumed from local trust",
		slog.String("key", MaskKey(rec.BoundKey)),
		slog.Int("days_remaining", trust.DaysRemaining))
	s.activateLocked(rec.BoundKey, rec.Entitlement)
	return &LoginResult{Source: SourceCache, Message: rec.Message, Entitlement: rec.Entitlement}, nil
}

// activateLocked flips the session to logged in and starts the heartbeat.
// Callers hold s.mu.
func (s *Session) activateLocked(key string, ent *Entitlement) {
	s.loggedIn = true
	s.key = key
	s.ent = ent
	s.monitor.Start(s.heartbeatCheck, s.handleTrustLost)
}

// Logout stops the heartbeat and clears the session. Logging out an already
// logged-out session is a no-op that succeeds, so callers can retry freely.
// A heartbeat stop timeout is reported but the logout still completes.
func (s *Session) Logout() error {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		s.logger.Debug("logout requested with no active session")
		return nil
	}
	s.loggedIn = false
	key := s.key
	s.key = ""
	s.ent = nil
	monitor := s.monitor
	s.mu.Unlock()

	err := monitor.Stop()
	s.logger.Info("logged out", slog.String("key", MaskKey(key)))
	return err
}

// CheckLocalTrust evaluates the cached verification without touching the
// network or the login state.
func (s *Session) CheckLocalTrust() LocalTrust {
	_, trust := s.evaluateLocalTrust()
	return trust
}

// evaluateLocalTrust loads the cache and judges it against this machine and
// the current time. It holds no session lock: the store writes via
// temp-file-then-rename, so a concurrent Load sees either the old or the new
// file, never a partial write. The heartbeat calls this while logins are in
// flight, and Logout waits on the heartbeat, so taking s.mu here would
// deadlock.
func (s *Session) evaluateLocalTrust() (*CacheRecord, LocalTrust) {
	rec, err := s.store.Load()
	if err != nil || rec == nil {
		return nil, LocalTrust{Valid: false, Message: "no_local_verification"}
	}
	if !rec.Success {
		return rec, LocalTrust{Valid: false, Message: "last_verification_failed"}
	}
	if rec.HardwareID != s.hwID {
		s.logger.Warn("trust cache belongs to a different machine",
			slog.String("cached_hwid", MaskKey(rec.HardwareID)))
		return rec, LocalTrust{Valid: false, Message: "hardware_mismatch"}
	}
	if rec.Entitlement == nil {
		return rec, LocalTrust{Valid: false, Message: "missing_entitlement"}
	}

	expiry, err := rec.Entitlement.ExpiresAt()
	if err != nil {
		// fail closed: an expiry nothing can parse is an expired expiry
		s.logger.Warn("trust cache carries unparseable expiry, treating as expired",
			slog.String("expiry_time", rec.Entitlement.ExpiryTime))
		return rec, LocalTrust{Valid: false, Message: "unparseable_expiry"}
	}
	now := time.Now()
	if !expiry.After(now) {
		return rec, LocalTrust{Valid: false, Message: "expired", ExpiresAt: expiry}
	}

	return rec, LocalTrust{
		Valid:         true,
		Key:           rec.BoundKey,
		CardType:      rec.Entitlement.CardType,
		ExpiresAt:     expiry,
		DaysRemaining: rec.Entitlement.DaysRemaining(now),
	}
}

// heartbeatCheck is the monitor's trust predicate.
func (s *Session) heartbeatCheck() bool {
	return s.CheckLocalTrust().Valid
}

// handleTrustLost runs when the heartbeat finds trust invalid: the session
// logs itself out and the registered callback is told. No process exit, no
// policy; that belongs to the callback's owner.
func (s *Session) handleTrustLost() {
	trust := s.CheckLocalTrust()
	reason := trust.Message
	if reason == "" {
		reason = "trust_invalid"
	}

	s.mu.Lock()
	s.loggedIn = false
	s.key = ""
	s.ent = nil
	s.mu.Unlock()

	s.metrics.RecordTrustLost(context.Background(), reason)
	s.logger.Warn("local trust lost", slog.String("reason", reason))

	if s.onTrustLost != nil {
		s.onTrustLost(TrustFailure{Reason: reason, At: time.Now()})
	}
}

// DebugInfo reports the session and cache state for diagnostics.
type DebugInfo struct {
	HardwareID   string     `json:"hardware_id"`
	LoggedIn     bool       `json:"logged_in"`
	BoundKey     string     `json:"bound_key,omitempty"`
	Trust        LocalTrust `json:"trust"`
	PrimaryCache FileInfo   `json:"primary_cache"`
	LegacyCache  FileInfo   `json:"legacy_cache"`
}

// Debug returns diagnostics about the session and its cache files. The bound
// key is masked.
func (s *Session) Debug() DebugInfo {
	s.mu.Lock()
	loggedIn := s.loggedIn
	key := s.key
	s.mu.Unlock()

	primary, legacy := s.store.DebugInfo()
	return DebugInfo{
		HardwareID:   s.hwID,
		LoggedIn:     loggedIn,
		BoundKey:     MaskKey(key),
		Trust:        s.CheckLocalTrust(),
		PrimaryCache: primary,
		LegacyCache:  legacy,
	}
}

// ClearCache removes the cached verification files. An active session stays
// logged in until the heartbeat notices.
func (s *Session) ClearCache() error {
	return s.store.Delete()
}
