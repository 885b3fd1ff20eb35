package service

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/config"
	"github.com/ifuryst/ripplecast/internal/poll"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
	"github.com/ifuryst/ripplecast/internal/service/publisher/facebook"
	"github.com/ifuryst/ripplecast/internal/service/publisher/instagram"
	"github.com/ifuryst/ripplecast/internal/service/publisher/linkedin"
	"github.com/ifuryst/ripplecast/internal/service/publisher/pinterest"
	"github.com/ifuryst/ripplecast/internal/service/publisher/resolver"
	"github.com/ifuryst/ripplecast/internal/service/publisher/tiktok"
	"github.com/ifuryst/ripplecast/internal/service/publisher/x"
)

// ProviderDeps builds the collaborators shared by every provider from configuration.
func ProviderDeps(cfg *config.Config, clock poll.Clock, logger *zap.Logger) publisher.Deps {
	p := cfg.Providers
	return publisher.Deps{
		HTTP: &http.Client{
			Timeout:   config.Duration(p.HTTPTimeout, 0),
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Resolver: resolver.New(resolver.Config{
			BaseURL:    cfg.Media.BaseURL,
			SigningKey: cfg.Media.SigningKey,
		}, clock),
		Clock:  clock,
		Logger: logger.Named("provider"),
		PollBounds: poll.Bounds{
			MinInterval: config.Duration(p.Poll.MinInterval, 0),
			MaxInterval: config.Duration(p.Poll.MaxInterval, 0),
			MaxWait:     config.Duration(p.Poll.MaxWait, 0),
		},
		CallTimeout: config.Duration(p.CallTimeout, 0),
		MediaTTL:    config.Duration(p.MediaTTL, 0),
	}.WithDefaults()
}

// NewProviderRegistry registers a provider for every enabled platform.
func NewProviderRegistry(cfg *config.Config, deps publisher.Deps, logger *zap.Logger) (*publisher.Registry, error) {
	registry := publisher.NewRegistry(logger)
	p := cfg.Providers

	var providers []publisher.Provider
	if p.Facebook.Enabled {
		providers = append(providers, facebook.New(facebook.Config{
			GraphURL:        p.Facebook.GraphURL,
			VideoUploadURL:  p.Facebook.VideoUploadURL,
			APIVersion:      p.Facebook.APIVersion,
			ChunkedVideoMin: p.Facebook.ChunkedVideoMin,
		}, deps))
	}
	if p.Instagram.Enabled {
		providers = append(providers, instagram.New(instagram.Config{
			GraphURL:   p.Instagram.GraphURL,
			APIVersion: p.Instagram.APIVersion,
		}, deps))
	}
	if p.LinkedIn.Enabled {
		providers = append(providers, linkedin.New(linkedin.Config{
			APIURL:     p.LinkedIn.APIURL,
			APIVersion: p.LinkedIn.APIVersion,
		}, deps))
	}
	if p.X.Enabled {
		providers = append(providers, x.New(x.Config{
			APIURL:    p.X.APIURL,
			UploadURL: p.X.UploadURL,
			ChunkSize: p.X.ChunkSize,
		}, deps))
	}
	if p.TikTok.Enabled {
		providers = append(providers, tiktok.New(tiktok.Config{
			APIURL:       p.TikTok.APIURL,
			ChunkSize:    p.TikTok.ChunkSize,
			PrivacyLevel: p.TikTok.PrivacyLevel,
		}, deps))
	}
	if p.Pinterest.Enabled {
		providers = append(providers, pinterest.New(pinterest.Config{
			APIURL:           p.Pinterest.APIURL,
			DefaultBoardName: p.Pinterest.DefaultBoardName,
		}, deps))
	}

	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}
	if len(providers) == 0 {
		logger.Warn("No platform providers enabled")
	}
	return registry, nil
}
