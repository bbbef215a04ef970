package platform

import (
	"log/slog"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// Config holds the settings shared by every per-owner client.
type Config struct {
	BaseURL     string
	Version     string
	Timeout     time.Duration
	RateLimit   float64
	MaxAttempts int
}

// Factory builds one Client per job execution from explicit owner credentials.
type Factory struct {
	cfg    Config
	logger *slog.Logger
}

var _ ports.ClientFactory = (*Factory)(nil)

func NewFactory(cfg Config, logger *slog.Logger) *Factory {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	return &Factory{cfg: cfg, logger: logger}
}

// ForOwner returns a client bound to the owner's token and proxy.
// A missing token is reported as an authorization failure.
func (f *Factory) ForOwner(owner domain.Owner) (ports.PlatformClient, error) {
	if owner.AccessToken == "" {
		return nil, &domain.APIError{
			Kind:    domain.APIErrorAuth,
			Method:  "auth",
			Message: "owner has no access token",
		}
	}

	httpClient, err := NewHTTPClient(owner.ProxyURL, f.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	return NewClient(owner.AccessToken,
		WithBaseURL(f.cfg.BaseURL),
		WithVersion(f.cfg.Version),
		WithHTTPClient(httpClient),
		WithLogger(f.logger.With("owner_id", owner.ID)),
		WithRateLimit(f.cfg.RateLimit),
		WithMaxAttempts(f.cfg.MaxAttempts),
	), nil
}
