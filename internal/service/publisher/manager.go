package publisher

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/models"
)

// Registry maps each platform to its provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[models.Platform]Provider
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		providers: make(map[models.Platform]Provider),
		logger:    logger,
	}
}

func (r *Registry) Register(provider Provider) error {
	platform := provider.Platform()
	if !platform.Valid() {
		return fmt.Errorf("unknown platform %q", platform)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[platform]; exists {
		return fmt.Errorf("provider for platform %s already registered", platform)
	}
	r.providers[platform] = provider
	r.logger.Info("Provider registered", zap.String("platform", string(platform)))
	return nil
}

func (r *Registry) Get(platform models.Platform) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, exists := r.providers[platform]
	if !exists {
		return nil, &Error{
			Kind:     KindConfiguration,
			Platform: platform,
			Code:     "provider_not_registered",
			Message:  fmt.Sprintf("no provider registered for platform %s", platform),
		}
	}
	return provider, nil
}

// Platforms lists registered platforms in a stable order.
func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	platforms := make([]models.Platform, 0, len(r.providers))
	for p := range r.providers {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}
