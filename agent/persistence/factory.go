package persistence

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/internal/database"
)

// Backends 持有各后端共享的连接，由调用方创建和关闭
type Backends struct {
	Redis  redis.UniversalClient
	Pool   *database.PoolManager
	Logger *zap.Logger
}

// NewSessionStore creates a SessionStore based on the configuration
func NewSessionStore(config StoreConfig, b Backends) (SessionStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemorySessionStore(), nil
	case StoreTypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("redis session store requires a redis client")
		}
		return NewRedisSessionStore(b.Redis, config, b.Logger), nil
	case StoreTypeDatabase:
		if b.Pool == nil {
			return nil, fmt.Errorf("database session store requires a database pool")
		}
		return NewGormSessionStore(b.Pool, config, b.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", config.Type)
	}
}

// NewAgentStore creates an AgentStore based on the configuration
func NewAgentStore(config StoreConfig, b Backends) (AgentStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryAgentStore(), nil
	case StoreTypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("redis agent store requires a redis client")
		}
		return NewRedisAgentStore(b.Redis, config), nil
	case StoreTypeDatabase:
		if b.Pool == nil {
			return nil, fmt.Errorf("database agent store requires a database pool")
		}
		return NewGormAgentStore(b.Pool), nil
	default:
		return nil, fmt.Errorf("unsupported agent store type: %s", config.Type)
	}
}
