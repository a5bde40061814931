package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/agent/workshop"
	"github.com/BaSui01/nexus/api/handlers"
	"github.com/BaSui01/nexus/config"
	"github.com/BaSui01/nexus/internal/database"
	"github.com/BaSui01/nexus/internal/metrics"
	"github.com/BaSui01/nexus/internal/server"
	"github.com/BaSui01/nexus/internal/telemetry"
	"github.com/BaSui01/nexus/internal/tlsutil"
	"github.com/BaSui01/nexus/llm"
	"github.com/BaSui01/nexus/llm/gemini"
	"github.com/BaSui01/nexus/types"
)

// poolStatsInterval 连接池指标上报间隔
const poolStatsInterval = 15 * time.Second

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 装配存储、编排器与 HTTP 接口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	telemetry *telemetry.Providers

	// 存储后端，按 store.type 二选一
	redis redis.UniversalClient
	pool  *database.PoolManager

	sessions persistence.SessionStore
	agents   persistence.AgentStore
	hub      *persistence.EventHub
	orch     *workshop.Orchestrator

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建服务器实例，资源在 Run 中初始化
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Run 初始化全部组件并阻塞到 ctx 结束，返回前释放所有资源
func (s *Server) Run(ctx context.Context) error {
	defer s.shutdown()

	if err := s.init(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })
	if s.pool != nil {
		g.Go(func() error {
			s.reportPoolStats(gctx)
			return nil
		})
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store", s.cfg.Store.Type),
	)

	return g.Wait()
}

// =============================================================================
// 🔧 初始化
// =============================================================================

func (s *Server) init(ctx context.Context) error {
	// 1. 遥测
	tp, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	s.telemetry = tp

	// 2. 指标
	s.collector = metrics.NewCollector("nexus", s.logger)

	// 3. 存储
	if err := s.initStores(ctx); err != nil {
		return fmt.Errorf("failed to init stores: %w", err)
	}

	// 4. 模型与编排器
	provider, err := s.initProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to init llm provider: %w", err)
	}

	wc := s.cfg.Workshop
	s.orch = workshop.NewOrchestrator(s.sessions, s.agents, provider, workshop.Config{
		RoundDelay:            wc.RoundDelay,
		MemoryWindow:          wc.MemoryWindow,
		SeedText:              wc.SeedText,
		BackgroundPlaceholder: wc.BackgroundPlaceholder,
		ProviderTimeout:       wc.ProviderTimeout,
	},
		workshop.WithMetrics(s.collector),
		workshop.WithLogger(s.logger),
	)

	// 5. HTTP
	s.httpManager = server.NewManager(s.buildHandler(ctx), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return nil
}

// initStores 按配置连接后端并创建会话与 Agent 存储
func (s *Server) initStores(ctx context.Context) error {
	storeCfg := persistence.StoreConfig{
		Type:       persistence.StoreType(s.cfg.Store.Type),
		KeyPrefix:  s.cfg.Store.KeyPrefix,
		MaxRetries: s.cfg.Store.MaxRetries,
	}
	backends := persistence.Backends{Logger: s.logger}

	switch storeCfg.Type {
	case persistence.StoreTypeRedis:
		rc := s.cfg.Redis
		s.redis = redis.NewClient(&redis.Options{
			Addr:         rc.Addr,
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			TLSConfig:    tlsutil.RedisConfig(rc.Addr, rc.TLS),
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", rc.Addr, err)
		}
		backends.Redis = s.redis

	case persistence.StoreTypeDatabase:
		pool, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return err
		}
		s.pool = pool
		backends.Pool = pool
	}

	sessions, err := persistence.NewSessionStore(storeCfg, backends)
	if err != nil {
		return err
	}
	agents, err := persistence.NewAgentStore(storeCfg, backends)
	if err != nil {
		return err
	}

	// 所有写入经由观察者包装，事件流据此推送
	s.hub = persistence.NewEventHub(s.cfg.Store.EventBuffer, s.logger)
	s.sessions = persistence.NewObservedSessionStore(sessions, s.hub)
	s.agents = agents

	s.logger.Info("Stores initialized", zap.String("type", string(storeCfg.Type)))
	return nil
}

// initProvider 创建 Gemini provider。未配置 API Key 时服务照常启动，
// 每次补全以 PROVIDER_NOT_SET 失败，并作为模型消息写入会话。
func (s *Server) initProvider(ctx context.Context) (llm.CompletionProvider, error) {
	lc := s.cfg.LLM

	var inner llm.CompletionProvider
	p, err := gemini.New(ctx, gemini.Config{
		APIKey:        lc.APIKey,
		BaseURL:       lc.BaseURL,
		APIVersion:    lc.APIVersion,
		TopP:          lc.TopP,
		TopK:          lc.TopK,
		ThinkingRatio: lc.ThinkingRatio,
		ThinkingCap:   lc.ThinkingCap,
		MemoryWindow:  s.cfg.Workshop.MemoryWindow,
		HTTPClient:    tlsutil.HTTPClient(0),
	}, s.logger)

	var appErr *types.Error
	switch {
	case err == nil:
		inner = p
	case errors.As(err, &appErr) && appErr.Code == types.ErrProviderNotSet:
		s.logger.Warn("LLM API key not configured, agent turns will fail until it is set")
		inner = llm.ProviderFunc(func(context.Context, *llm.GenerateRequest) (*llm.GenerateResult, error) {
			return nil, err
		})
	default:
		return nil, err
	}

	return llm.NewInstrumentedProvider(inner, s.collector, s.logger)
}

// buildHandler 注册路由并构建中间件链
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	seed := s.cfg.Store.SeedDefaultAgents
	sessions := handlers.NewSessionHandler(s.sessions, s.agents, s.orch, seed, s.logger)
	agents := handlers.NewAgentHandler(s.agents, s.cfg.LLM.DefaultModel, seed, s.logger)
	ws := handlers.NewWorkshopHandler(s.sessions, s.orch, s.logger)
	events := handlers.NewEventsHandler(s.sessions, s.hub, s.collector, s.cfg.Server.CORSAllowedOrigins, s.logger)
	models := handlers.NewModelHandler(s.cfg.LLM.Models, s.cfg.LLM.DefaultModel)

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("session_store", s.sessions.Ping))
	if s.redis != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}
	if s.pool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}

	mux := http.NewServeMux()

	// ========================================
	// 健康检查
	// ========================================
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("GET /api/v1/sessions", sessions.HandleList)
	mux.HandleFunc("POST /api/v1/sessions", sessions.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sessions.HandleGet)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", sessions.HandlePatch)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sessions.HandleDelete)
	mux.HandleFunc("POST /api/v1/sessions/{id}/participants/{agentId}", sessions.HandleToggleParticipant)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sessions.HandleListMessages)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", ws.HandleSendMessage)
	mux.HandleFunc("POST /api/v1/sessions/{id}/workshop/start", ws.HandleStart)
	mux.HandleFunc("POST /api/v1/sessions/{id}/workshop/stop", ws.HandleStop)
	mux.HandleFunc("GET /api/v1/sessions/{id}/workshop", ws.HandleStatus)
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", events.HandleEvents)

	mux.HandleFunc("GET /api/v1/agents", agents.HandleList)
	mux.HandleFunc("POST /api/v1/agents", agents.HandleCreate)
	mux.HandleFunc("PUT /api/v1/agents/{id}", agents.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/agents/{id}", agents.HandleDelete)

	mux.HandleFunc("GET /api/v1/models", models.HandleList)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		CallerIdentity(),
	)
}

// reportPoolStats 定期把连接池状态写入 Prometheus
func (s *Server) reportPoolStats(ctx context.Context) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.pool.Stats()
			s.collector.RecordDBConnections(s.cfg.Database.Driver, st.OpenConnections, st.Idle)
		}
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// shutdown 按依赖逆序释放资源。HTTP 服务已在 Manager.Run 中关闭。
func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	// 1. 停止运行中的研讨，等待各循环清理运行标记
	if s.orch != nil {
		if err := s.orch.Close(); err != nil {
			s.logger.Error("Orchestrator shutdown error", zap.Error(err))
		}
	}

	// 2. 存储
	if s.sessions != nil {
		if err := s.sessions.Close(); err != nil {
			s.logger.Error("Session store close error", zap.Error(err))
		}
	}
	if s.agents != nil {
		if err := s.agents.Close(); err != nil {
			s.logger.Error("Agent store close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Redis client close error", zap.Error(err))
		}
	}

	// 3. 遥测最后关闭，确保上面的 span 被导出
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
