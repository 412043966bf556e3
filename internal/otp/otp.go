// Package otp issues and checks the one-time codes that activate new accounts.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps at most one live code per email.
type Store interface {
	Save(ctx context.Context, email, code string, ttl time.Duration) error
	// Verify reports whether code is the live code for email and consumes it on a match.
	Verify(ctx context.Context, email, code string) (bool, error)
}

// Generate returns a random numeric code of n digits.
func Generate(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("otp length must be positive, got %d", n)
	}
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for range n {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

func key(email string) string {
	return "otp:registration:" + strings.ToLower(email)
}

func matches(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key(email), code, ttl).Err()
}

func (s *RedisStore) Verify(ctx context.Context, email, code string) (bool, error) {
	want, err := s.rdb.Get(ctx, key(email)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !matches(want, code) {
		return false, nil
	}
	if err := s.rdb.Del(ctx, key(email)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

type entry struct {
	code    string
	expires time.Time
}

// MemoryStore is the single-process Store used when no redis address is configured.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]entry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: map[string]entry{}, now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, email, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[key(email)] = entry{code: code, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Verify(_ context.Context, email, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(email)
	e, ok := s.codes[k]
	if !ok {
		return false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.codes, k)
		return false, nil
	}
	if !matches(e.code, code) {
		return false, nil
	}
	delete(s.codes, k)
	return true, nil
}

// Sender delivers a code to the account owner.
type Sender interface {
	Send(ctx context.Context, email, username, code string) error
}

// LogSender writes codes to the log. Development only.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, email, username, code string) error {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("registration otp issued", "component", "otp", "email", email, "username", username, "code", code)
	return nil
}

// Outbox keeps the last code sent to each email.
type Outbox struct {
	mu   sync.Mutex
	last map[string]string
	sent int
}

func NewOutbox() *Outbox {
	return &Outbox{last: map[string]string{}}
}

func (o *Outbox) Send(_ context.Context, email, _ string, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last[strings.ToLower(email)] = code
	o.sent++
	return nil
}

func (o *Outbox) Last(email string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	code, ok := o.last[strings.ToLower(email)]
	return code, ok
}

func (o *Outbox) Sent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}
