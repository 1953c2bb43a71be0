package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/infrastructure/config"
)

// New builds the cache backend selected by configuration.
func New(cfg *config.CacheConfig, logger *zap.Logger) (Cache, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryCache(), nil
	case "remote":
		return NewRedisCache(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
