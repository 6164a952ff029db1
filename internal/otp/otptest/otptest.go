// Package otptest provides in-memory code stores, limiters and senders for tests.
package otptest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bandyab/bandyab/internal/domain"
)

type entry struct {
	hash     string
	attempts int
	expires  time.Time
}

// Store is an in-memory otp.Store
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry), now: time.Now}
}

// Advance moves the store's clock forward
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.now()
	s.now = func() time.Time { return base.Add(d) }
}

// Len returns the number of live codes
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if s.now().Before(e.expires) {
			n++
		}
	}
	return n
}

func (s *Store) Save(ctx context.Context, key, codeHash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{hash: codeHash, expires: s.now().Add(ttl)}
	return nil
}

func (s *Store) Attempt(ctx context.Context, key string) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expires) {
		delete(s.entries, key)
		return "", 0, domain.ErrCodeExpired
	}
	e.attempts++
	return e.hash, e.attempts, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Limiter allows Max calls per key; Max zero means unlimited
type Limiter struct {
	mu    sync.Mutex
	Max   int
	calls map[string]int
}

func (l *Limiter) Allow(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = make(map[string]int)
	}
	l.calls[key]++
	if l.Max > 0 && l.calls[key] > l.Max {
		return domain.ErrRateLimited
	}
	return nil
}

// Sender records delivered codes
type Sender struct {
	mu   sync.Mutex
	Fail bool
	sent map[string]string
}

func (s *Sender) Name() string { return "test" }

func (s *Sender) Send(ctx context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return errors.New("gateway down")
	}
	if s.sent == nil {
		s.sent = make(map[string]string)
	}
	s.sent[phone] = code
	return nil
}

// Last returns the last code sent to phone
func (s *Sender) Last(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[phone]
}
