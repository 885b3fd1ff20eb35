package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Manager starts one pool per platform and stops them together.
type Manager struct {
	pools  []*Pool
	logger *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(logger *zap.Logger, pools ...*Pool) *Manager {
	return &Manager{pools: pools, logger: logger}
}

func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, pool := range m.pools {
		m.wg.Add(1)
		go func(p *Pool) {
			defer m.wg.Done()
			p.Run(ctx)
		}(pool)
	}
	m.logger.Info("Workers started", zap.Int("pools", len(m.pools)))
}

// Stop cancels every pool and waits for in-flight jobs to record their outcome.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("Workers shutdown completed")
}
