package google

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

// DefaultFlowTTL bounds how long a user has to complete consent.
const DefaultFlowTTL = 10 * time.Minute

// ErrFlowStateNotFound is returned for unknown, expired or already consumed
// state values.
var ErrFlowStateNotFound = errors.New("authorization state not found")

// FlowStore maps OAuth state values to the subject that started the flow.
// States are single use.
type FlowStore interface {
	Save(ctx context.Context, state, subjectID string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (string, error)
	Close() error
}

// NewState returns a random URL-safe state value.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type flowState struct {
	subjectID string
	expiresAt time.Time
}

// MemoryFlowStore keeps flow state in process memory with a periodic sweep.
type MemoryFlowStore struct {
	mu     sync.Mutex
	states map[string]flowState
	logger *slog.Logger
	now    func() time.Time
	stop   chan struct{}
	once   sync.Once
}

// NewMemoryFlowStore creates a store and starts its cleanup goroutine.
func NewMemoryFlowStore(logger *slog.Logger) *MemoryFlowStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MemoryFlowStore{
		states: make(map[string]flowState),
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go s.cleanup(time.Minute)
	return s
}

func (s *MemoryFlowStore) Save(_ context.Context, state, subjectID string, ttl time.Duration) error {
	if state == "" || subjectID == "" {
		return errors.New("state and subject are required")
	}
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = flowState{subjectID: subjectID, expiresAt: s.now().Add(ttl)}
	return nil
}

// Consume returns the subject for state and deletes it so a callback cannot
// be replayed.
func (s *MemoryFlowStore) Consume(_ context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.states[state]
	if !ok {
		return "", ErrFlowStateNotFound
	}
	delete(s.states, state)
	if s.now().After(fs.expiresAt) {
		return "", ErrFlowStateNotFound
	}
	return fs.subjectID, nil
}

func (s *MemoryFlowStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryFlowStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *MemoryFlowStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	deleted := 0
	for state, fs := range s.states {
		if now.After(fs.expiresAt) {
			delete(s.states, state)
			deleted++
		}
	}
	if deleted > 0 {
		s.logger.Debug("Cleaned up OAuth flow state", "states_deleted", deleted)
	}
}

// ValkeyConfig configures the Valkey-backed flow store.
type ValkeyConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// ValkeyFlowStore keeps flow state in Valkey so any replica can serve the
// callback. Expiry is delegated to Valkey key TTLs.
type ValkeyFlowStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyFlowStore connects to Valkey.
func NewValkeyFlowStore(cfg ValkeyConfig) (*ValkeyFlowStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey address is required")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.Addr},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "urmindr:oauth:state:"
	}
	return &ValkeyFlowStore{client: client, prefix: prefix}, nil
}

func (s *ValkeyFlowStore) Save(ctx context.Context, state, subjectID string, ttl time.Duration) error {
	if state == "" || subjectID == "" {
		return errors.New("state and subject are required")
	}
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	cmd := s.client.B().Set().Key(s.prefix + state).Value(subjectID).ExSeconds(secs).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save authorization state: %w", err)
	}
	return nil
}

func (s *ValkeyFlowStore) Consume(ctx context.Context, state string) (string, error) {
	subject, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.prefix+state).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", ErrFlowStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read authorization state: %w", err)
	}
	return subject, nil
}

// Ping checks connectivity, used by readiness probes.
func (s *ValkeyFlowStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

func (s *ValkeyFlowStore) Close() error {
	s.client.Close()
	return nil
}
