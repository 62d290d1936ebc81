package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/equitybot/internal/crypto"
	"github.com/alanyoungcy/equitybot/internal/domain"
)

// Provider selects which gateway Resolve builds.
type Provider string

const (
	// ProviderAuto uses Alpaca when credentials resolve and Simulated otherwise.
	ProviderAuto      Provider = "auto"
	ProviderAlpaca    Provider = "alpaca"
	ProviderSimulated Provider = "simulated"
)

// Settings is everything Resolve needs to pick and build a gateway.
type Settings struct {
	Provider            Provider
	Alpaca              AlpacaConfig
	CredentialsPath     string
	CredentialsPassword string
	Resilience          ResilientConfig
}

// Resolved is the gateway chosen by Resolve. Broker is always wrapped in
// Resilient; Simulated is set only for the simulated variant.
type Resolved struct {
	Broker    *Resilient
	Simulated *Simulated
}

// Resolve picks the gateway variant once, at startup. Credentials come from
// the raw key pair first and the encrypted credentials file second. limiter
// may be nil.
func Resolve(s Settings, limiter domain.RateLimiter, logger *slog.Logger) (Resolved, error) {
	provider := Provider(strings.ToLower(string(s.Provider)))
	if provider == "" {
		provider = ProviderAuto
	}

	switch provider {
	case ProviderSimulated:
		return simulated(s, limiter, logger), nil
	case ProviderAlpaca, ProviderAuto:
	default:
		return Resolved{}, domain.NewValidationError("broker.provider", fmt.Sprintf("unknown provider %q", s.Provider))
	}

	creds, err := crypto.LoadCredentials(crypto.Source{
		APIKey:    s.Alpaca.APIKey,
		APISecret: s.Alpaca.APISecret,
		Path:      s.CredentialsPath,
		Password:  s.CredentialsPassword,
	})
	switch {
	case errors.Is(err, crypto.ErrNoCredentials) && provider == ProviderAuto:
		logger.Info("broker: no credentials configured, using simulated gateway")
		return simulated(s, limiter, logger), nil
	case err != nil:
		return Resolved{}, fmt.Errorf("broker: resolving credentials: %w", err)
	}

	cfg := s.Alpaca
	cfg.APIKey, cfg.APISecret = creds.APIKey, creds.APISecret
	live := NewAlpaca(cfg, logger)
	logger.Info("broker: using alpaca gateway", slog.String("trading_url", cfg.TradingURL))
	return Resolved{Broker: NewResilient(live, limiter, s.Resilience, logger)}, nil
}

func simulated(s Settings, limiter domain.RateLimiter, logger *slog.Logger) Resolved {
	sim := NewSimulated(logger)
	return Resolved{Broker: NewResilient(sim, limiter, s.Resilience, logger), Simulated: sim}
}
