// Package otp issues and verifies phone one-time codes. Codes are six digits, stored
// only as keyed hashes with a short TTL, limited in verification attempts and
// throttled per phone number on send.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/bandyab/bandyab/internal/crypto"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/telemetry"
)

// CodeLength is the number of digits in a code
const CodeLength = 6

// Store keeps pending codes
type Store interface {
	// Save replaces any pending code for key
	Save(ctx context.Context, key, codeHash string, ttl time.Duration) error
	// Attempt counts one verification attempt and returns the stored hash together
	// with the number of attempts so far. A missing code yields domain.ErrCodeExpired.
	Attempt(ctx context.Context, key string) (codeHash string, attempts int, err error)
	// Delete drops a pending code
	Delete(ctx context.Context, key string) error
}

// Limiter throttles code sends per key and returns domain.ErrRateLimited when exceeded
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Sender delivers a code to a phone
type Sender interface {
	Name() string
	Send(ctx context.Context, phone, code string) error
}

// Options configures a Service
type Options struct {
	TTL         time.Duration
	MaxAttempts int
}

// Service sends and verifies codes
type Service struct {
	store   Store
	limiter Limiter
	sender  Sender
	cipher  *crypto.FieldCipher
	opts    Options
}

// NewService creates a Service
func NewService(store Store, limiter Limiter, sender Sender, cipher *crypto.FieldCipher, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Service{store: store, limiter: limiter, sender: sender, cipher: cipher, opts: opts}
}

// TTL returns how long a sent code stays valid
func (s *Service) TTL() time.Duration {
	return s.opts.TTL
}

func (s *Service) storeKey(phone string) string {
	return "otp:code:" + s.cipher.Hash(phone)
}

func (s *Service) codeHash(phone, code string) string {
	return s.cipher.Hash("otp:" + phone + ":" + code)
}

// Send normalises rawPhone, generates a code and hands it to the SMS sender. It
// returns the canonical phone number.
func (s *Service) Send(ctx context.Context, rawPhone string) (string, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return "", err
	}
	if err := s.limiter.Allow(ctx, s.cipher.Hash(phone)); err != nil {
		return "", err
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}
	if err := s.store.Save(ctx, s.storeKey(phone), s.codeHash(phone, code), s.opts.TTL); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}

	if err := s.sender.Send(ctx, phone, code); err != nil {
		telemetry.OTPSentTotal.WithLabelValues(s.sender.Name(), "error").Inc()
		_ = s.store.Delete(ctx, s.storeKey(phone))
		return "", fmt.Errorf("failed to send code: %w", err)
	}
	telemetry.OTPSentTotal.WithLabelValues(s.sender.Name(), "ok").Inc()
	slog.Info("one-time code sent", "phone", MaskPhone(phone), "provider", s.sender.Name())
	return phone, nil
}

// Verify checks code for rawPhone. A correct code is consumed; the caller gets the
// canonical phone number back.
func (s *Service) Verify(ctx context.Context, rawPhone, code string) (string, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return "", err
	}
	if len(code) != CodeLength {
		telemetry.OTPVerificationsTotal.WithLabelValues("mismatch").Inc()
		return "", domain.ErrCodeMismatch
	}

	key := s.storeKey(phone)
	stored, attempts, err := s.store.Attempt(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrCodeExpired) {
			telemetry.OTPVerificationsTotal.WithLabelValues("expired").Inc()
		}
		return "", err
	}
	if attempts > s.opts.MaxAttempts {
		_ = s.store.Delete(ctx, key)
		telemetry.OTPVerificationsTotal.WithLabelValues("exhausted").Inc()
		return "", domain.ErrTooManyAttempts
	}
	if !crypto.Equal(stored, s.codeHash(phone, code)) {
		telemetry.OTPVerificationsTotal.WithLabelValues("mismatch").Inc()
		return "", domain.ErrCodeMismatch
	}

	if err := s.store.Delete(ctx, key); err != nil {
		slog.Warn("failed to consume one-time code", "phone", MaskPhone(phone), "error", err)
	}
	telemetry.OTPVerificationsTotal.WithLabelValues("ok").Inc()
	return phone, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}
