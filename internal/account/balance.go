// Package account reads per-user account data shown on the home screen.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/internal/records"
)

// DefaultSparkCoins is shown when a user has no balance row or the lookup fails.
const DefaultSparkCoins int64 = 100

// Service resolves spark-coin balances.
type Service struct {
	balances records.BalanceStore
	timeout  time.Duration
	logger   *logging.Logger
}

// NewService creates a Service. logger may be nil.
func NewService(balances records.BalanceStore, timeout time.Duration, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{balances: balances, timeout: timeout, logger: logger}
}

// SparkCoins returns userID's balance, or DefaultSparkCoins when there is none.
func (s *Service) SparkCoins(ctx context.Context, userID string) int64 {
	if s.balances == nil || userID == "" {
		return DefaultSparkCoins
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	coins, err := s.balances.SparkCoins(ctx, userID)
	switch {
	case errors.Is(err, records.ErrNotFound):
		return DefaultSparkCoins
	case err != nil:
		s.logger.LogDiagnostic(ctx, "account", err, map[string]interface{}{"user_id": userID})
		return DefaultSparkCoins
	}
	return coins
}
