package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL is the client token lifetime when none is configured.
const DefaultTokenTTL = 365 * 24 * time.Hour

// Logger is the subset of logging.Logger the service uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Options configures a Service.
type Options struct {
	// Secret signs tokens and authorises operator requests.
	Secret string

	// TokenTTL defaults to DefaultTokenTTL.
	TokenTTL time.Duration

	// UniqueNames rejects registration of a name already in use.
	UniqueNames bool
}

// Service issues, validates and revokes client tokens.
//
// Records are cached in memory. Mutations write to the repository first and
// then replace the cache entry under the write lock, so concurrent
// validations see either the whole old record or the whole new one.
type Service struct {
	repo        ClientRepository
	secret      []byte
	ttl         time.Duration
	uniqueNames bool
	now         func() time.Time

	mu    sync.RWMutex
	cache map[string]ClientRecord

	// registerMu serialises Register so the name check and insert are atomic.
	registerMu sync.Mutex

	listenerMu sync.RWMutex
	onRevoke   []func(clientID string)

	logger Logger
}

// NewService creates an auth service over repo.
//
// Returns ErrNoSecret if opts.Secret is empty.
func NewService(repo ClientRepository, opts Options) (*Service, error) {
	if opts.Secret == "" {
		return nil, ErrNoSecret
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	return &Service{
		repo:        repo,
		secret:      []byte(opts.Secret),
		ttl:         opts.TokenTTL,
		uniqueNames: opts.UniqueNames,
		now:         time.Now,
		cache:       make(map[string]ClientRecord),
		logger:      noopLogger{},
	}, nil
}

// SetLogger sets the logger used for registration and revocation events.
func (s *Service) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	s.logger = l
}

// RefreshCache reloads every record from the repository.
func (s *Service) RefreshCache(ctx context.Context) error {
	recs, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("refreshing client cache: %w", err)
	}

	cache := make(map[string]ClientRecord, len(recs))
	for _, rec := range recs {
		cache[rec.ID] = rec
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

// Issue signs a token for clientID. It does not touch the repository.
func (s *Service) Issue(clientID, name string) (string, error) {
	token, _, err := s.issue(clientID, name)
	return token, err
}

func (s *Service) issue(clientID, name string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	return signToken(s.secret, clientID, name, s.now(), s.ttl)
}

// Register creates a client and returns its record and raw token.
// The raw token is never retrievable again.
func (s *Service) Register(ctx context.Context, name string) (*ClientRecord, string, error) {
	if err := ValidateName(name); err != nil {
		return nil, "", err
	}
	name = strings.TrimSpace(name)

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	if s.uniqueNames && s.nameTaken(name) {
		return nil, "", fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	rec := ClientRecord{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	token, expires, err := s.issue(rec.ID, rec.Name)
	if err != nil {
		return nil, "", err
	}
	rec.TokenHash = HashToken(token)
	rec.ExpiresAt = expires.UTC().Truncate(time.Second)

	if err := s.repo.Create(ctx, &rec); err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	s.cache[rec.ID] = rec
	s.mu.Unlock()

	s.logger.Info("client registered", "client_id", rec.ID, "name", rec.Name)
	out := rec
	return &out, token, nil
}

func (s *Service) nameTaken(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.cache {
		if strings.EqualFold(rec.Name, name) {
			return true
		}
	}
	return false
}

// Validate checks, in order: signature, expiry, record existence,
// revocation and that the token is the one issued to the record.
//
// Every failure is an *AuthError matching ErrUnauthorized.
func (s *Service) Validate(ctx context.Context, token string) (*ClientRecord, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoSecret
	}

	claims, err := parseToken(token, s.secret, s.now())
	if err != nil {
		return nil, err
	}
	clientID := claims.Subject

	rec, ok := s.lookup(ctx, clientID)
	if !ok {
		return nil, &AuthError{Reason: ReasonUnknownClient, ClientID: clientID}
	}
	if rec.Revoked {
		return nil, &AuthError{Reason: ReasonRevoked, ClientID: clientID}
	}
	if subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(rec.TokenHash)) != 1 {
		return nil, &AuthError{Reason: ReasonRevoked, ClientID: clientID, Err: errors.New("token superseded")}
	}

	return &rec, nil
}

// lookup reads the cache and falls back to the repository on a miss.
func (s *Service) lookup(ctx context.Context, clientID string) (ClientRecord, bool) {
	s.mu.RLock()
	rec, ok := s.cache[clientID]
	s.mu.RUnlock()
	if ok {
		return rec, true
	}

	stored, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return ClientRecord{}, false
	}

	s.mu.Lock()
	s.cache[stored.ID] = *stored
	s.mu.Unlock()
	return *stored, true
}

// Revoke marks clientID revoked and notifies revocation listeners.
// Revoking an already revoked client succeeds and changes nothing.
// Returns ErrClientNotFound for unknown ids.
func (s *Service) Revoke(ctx context.Context, clientID string) error {
	at := s.now().UTC()
	if err := s.repo.Revoke(ctx, clientID, at); err != nil {
		return err
	}

	// The row is revoked; mark the cached copy without a second read so a
	// failing lookup cannot leave the token accepted. An uncached record is
	// read from the repository on next use.
	s.mu.Lock()
	if rec, ok := s.cache[clientID]; ok && !rec.Revoked {
		rec.Revoked = true
		rec.RevokedAt = &at
		s.cache[clientID] = rec
	}
	s.mu.Unlock()

	s.logger.Info("client revoked", "client_id", clientID)

	s.listenerMu.RLock()
	listeners := append([]func(string){}, s.onRevoke...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(clientID)
	}
	return nil
}

// OnRevoke registers fn to be called after every successful Revoke.
func (s *Service) OnRevoke(fn func(clientID string)) {
	s.listenerMu.Lock()
	s.onRevoke = append(s.onRevoke, fn)
	s.listenerMu.Unlock()
}

// IsRevoked reports whether clientID may no longer act. Unknown ids count
// as revoked.
func (s *Service) IsRevoked(clientID string) bool {
	s.mu.RLock()
	rec, ok := s.cache[clientID]
	s.mu.RUnlock()
	return !ok || rec.Revoked
}

// Get returns the cached record for clientID.
func (s *Service) Get(clientID string) (ClientRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cache[clientID]
	return rec, ok
}

// List returns every record in registration order.
func (s *Service) List(ctx context.Context) ([]ClientRecord, error) {
	return s.repo.List(ctx)
}

// CheckSharedSecret compares candidate with the configured secret in
// constant time.
func (s *Service) CheckSharedSecret(candidate string) bool {
	if len(s.secret) == 0 || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), s.secret) == 1
}
