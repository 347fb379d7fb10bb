package conversation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Fields holds collected values in canonical string form.
type Fields map[string]string

func (f Fields) String(name string) string { return f[name] }

func (f Fields) Decimal(name string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(f[name])
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %s: %w", name, err)
	}
	return d, nil
}

func (f Fields) Int64(name string) (int64, error) {
	n, err := strconv.ParseInt(f[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", name, err)
	}
	return n, nil
}

func (f Fields) clone() Fields {
	out := make(Fields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// State is the dialog position of one user.
type State struct {
	Flow      string    `json:"flow"`
	Step      int       `json:"step"`
	Fields    Fields    `json:"fields"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps one State per user. Implementations do not promise durability across restarts.
type Store interface {
	Get(ctx context.Context, userID int64) (State, bool, error)
	Put(ctx context.Context, userID int64, state State) error
	Delete(ctx context.Context, userID int64) error
}

// MemoryStore keeps dialog state in process memory and forgets states idle longer than ttl.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]State
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[int64]State),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (State, bool, error) {
	s.mu.RLock()
	st, ok := s.entries[userID]
	s.mu.RUnlock()
	if !ok || s.expired(st) {
		return State{}, false, nil
	}
	st.Fields = st.Fields.clone()
	return st, true, nil
}

func (s *MemoryStore) Put(_ context.Context, userID int64, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.Fields = state.Fields.clone()
	state.UpdatedAt = s.now()
	s.entries[userID] = state
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

// Sweep removes expired states and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, st := range s.entries {
		if s.expired(st) {
			delete(s.entries, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *MemoryStore) expired(st State) bool {
	return s.ttl > 0 && s.now().Sub(st.UpdatedAt) > s.ttl
}
