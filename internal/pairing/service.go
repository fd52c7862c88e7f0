package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tvlink/server/internal/metrics"
	"github.com/tvlink/server/internal/model"
	"github.com/tvlink/server/internal/repo"
)

const (
	CodeLength = 6
	DefaultTTL = 180 * time.Second
)

var codeSpace = big.NewInt(1_000_000)

var (
	// ErrInvalidCode is returned for unknown, expired and already used codes alike.
	ErrInvalidCode = errors.New("invalid or expired pairing code")
	// ErrMissingCode is returned when no code was supplied at all.
	ErrMissingCode = errors.New("pairing code is required")
)

// Service issues and redeems pairing codes
type Service struct {
	codes   repo.PairingRepo
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
	newCode func() (string, error)
}

// NewService creates a pairing service; ttl <= 0 selects DefaultTTL.
func NewService(codes repo.PairingRepo, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		codes:   codes,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		newCode: GenerateCode,
	}
}

// TTL is the lifetime of newly issued codes
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// IssueCode stores a new code for deviceID. A live code with the same value is replaced.
func (s *Service) IssueCode(ctx context.Context, deviceID string) (model.PairingCode, error) {
	code, err := s.newCode()
	if err != nil {
		return model.PairingCode{}, fmt.Errorf("generate code: %w", err)
	}

	pc := model.PairingCode{
		Code:      code,
		DeviceID:  deviceID,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.codes.Put(ctx, pc); err != nil {
		return model.PairingCode{}, err
	}
	return pc, nil
}

// RedeemCode consumes code and links userID to the bound device. The code can be
// redeemed at most once.
func (s *Service) RedeemCode(ctx context.Context, code, userID string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrMissingCode
	}
	if !wellFormed(code) {
		metrics.PairRedemptions.WithLabelValues("invalid").Inc()
		return "", ErrInvalidCode
	}

	deviceID, err := s.codes.Redeem(ctx, code, userID, s.now())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			metrics.PairRedemptions.WithLabelValues("invalid").Inc()
			return "", ErrInvalidCode
		}
		metrics.PairRedemptions.WithLabelValues("error").Inc()
		return "", fmt.Errorf("redeem pairing code: %w", err)
	}

	metrics.PairRedemptions.WithLabelValues("linked").Inc()
	s.logger.Info("device paired", zap.String("device_id", deviceID), zap.String("user_id", userID))
	return deviceID, nil
}

// Sweep removes expired codes.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.codes.DeleteExpired(ctx, s.now())
}

// GenerateCode draws a code uniformly from [000000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func wellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
