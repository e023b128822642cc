/**
 * @description
 * This package defines the payout provider contract and its two variants:
 * a custodial wallet API (Circle-style developer-controlled wallets) and a
 * direct on-chain transfer signed with the service's own key. The dispatch
 * pipeline is provider-agnostic beyond this contract.
 */
package payout

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/blockquiz/rewards-service/internal/domain"
)

// ErrConfig marks provider construction failures caused by missing or
// invalid credentials. These are fatal for the dispatch attempt and are
// never retried.
var ErrConfig = errors.New("payout provider configuration error")

// Provider executes a single money movement and returns the rail-specific
// settlement reference (transaction hash or provider transfer id).
type Provider interface {
	Transfer(ctx context.Context, token domain.RewardToken, destination string, amountUnits *big.Int) (string, error)
}

// Config carries the credentials for both provider variants; only the
// fields of the selected mode are validated.
type Config struct {
	// Custodial rail
	CustodialAPIBaseURL  string
	CustodialAPIKey      string
	CustodialWalletID    string
	CustodialEntityKey   string
	CustodialBlockchain  string
	CustodialUSDCAddress string

	// On-chain rail
	ChainRPCURL          string
	ChainID              int64
	DistributorKeyHex    string
	OnchainUSDCAddress   string
}

// New constructs the provider for the given mode, failing fast when the
// mode's required secrets are absent.
func New(mode domain.PayoutMode, cfg Config) (Provider, error) {
	switch mode {
	case domain.ModeOnchain:
		return NewOnchainProvider(cfg)
	case domain.ModeCustodial:
		return NewCustodialProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown payout mode %q", ErrConfig, mode)
	}
}
