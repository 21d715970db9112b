package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/repository/token"
)

// Reader is the read side of a device session. Cart and checkout only ever
// see a Reader; writes belong to the identity bridge.
type Reader interface {
	Token(ctx context.Context) (string, error)
	// Subscribe returns a channel signalled after every token change and a
	// func to stop the subscription. Signals coalesce.
	Subscribe() (<-chan struct{}, func())
}

// Store holds the durable session token of one device.
type Store struct {
	deviceID string
	repo     token.Repository
	clock    clock.Clock
	logger   *log.Logger
	parser   *jwt.Parser

	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func NewStore(deviceID string, repo token.Repository, clk clock.Clock, logger *log.Logger) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		deviceID: deviceID,
		repo:     repo,
		clock:    clk,
		logger:   logger,
		parser:   jwt.NewParser(),
		subs:     map[chan struct{}]struct{}{},
	}
}

func (s *Store) DeviceID() string { return s.deviceID }

// Token returns the stored token, or "" when there is none. A JWT whose exp
// has passed reads as "". Tokens that are not JWTs are returned unchanged.
func (s *Store) Token(ctx context.Context) (string, error) {
	rec, err := s.repo.Get(ctx, s.deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		s.logger.Printf("session store: get device_id=%s error=%v", s.deviceID, err)
		return "", fmt.Errorf("read session token: %w", err)
	}
	if s.expired(rec.Token) {
		return "", nil
	}
	return rec.Token, nil
}

// Save persists tok and signals subscribers.
func (s *Store) Save(ctx context.Context, tok, provider string) error {
	if tok == "" {
		return errors.New("token required")
	}
	if err := s.repo.Put(ctx, token.Record{DeviceID: s.deviceID, Token: tok, Provider: provider}); err != nil {
		s.logger.Printf("session store: put device_id=%s error=%v", s.deviceID, err)
		return fmt.Errorf("save session token: %w", err)
	}
	s.Invalidate()
	return nil
}

// Clear removes the token and signals subscribers. Clearing an absent token is not an error.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.repo.Delete(ctx, s.deviceID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Printf("session store: delete device_id=%s error=%v", s.deviceID, err)
		return fmt.Errorf("clear session token: %w", err)
	}
	s.Invalidate()
	return nil
}

func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

// Invalidate signals every subscriber that the token may have changed. It
// is also how change-feed events from other replicas reach local tabs.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) expired(tok string) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := s.parser.ParseUnverified(tok, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(s.clock.Now())
}
