package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"intelhub/adapters/cache"
	"intelhub/adapters/hub"
	"intelhub/adapters/triggers"
)

const shutdownTimeout = 10 * time.Second

type ServerImpl struct {
	redisClient *redis.Client
	cache       *cache.Store
	hub         *hub.Hub
	consumer    *triggers.Consumer
	registry    *prometheus.Registry
	upgrader    websocket.Upgrader
	router      *gin.Engine
	httpServer  *http.Server
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	logger := slog.Default().With(slog.String("caller", "Server"))

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化快照來源
	store, err := cache.NewStore(redisClient, cache.WithPrefix(config.Redis.CachePrefix))
	if err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("%s: failed to create cache store: %w", op, err)
	}

	// 初始化指標
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 初始化連線管理器
	hubOpts := []hub.Option{
		hub.WithLogger(slog.Default()),
		hub.WithRegisterer(registry),
	}
	if config.Hub.PingInterval > 0 {
		hubOpts = append(hubOpts, hub.WithPingInterval(config.Hub.PingInterval))
	}
	if config.Hub.PongTimeout > 0 {
		hubOpts = append(hubOpts, hub.WithPongTimeout(config.Hub.PongTimeout))
	}
	if config.Hub.SendBuffer > 0 {
		hubOpts = append(hubOpts, hub.WithSendBuffer(config.Hub.SendBuffer))
	}
	if config.Hub.ReadLimit > 0 {
		hubOpts = append(hubOpts, hub.WithReadLimit(config.Hub.ReadLimit))
	}
	h, err := hub.NewHub(store, hubOpts...)
	if err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("%s: failed to create hub: %w", op, err)
	}

	// 初始化觸發事件消費者
	consumer, err := triggers.NewConsumer(
		redisClient,
		config.Redis.StreamKeys.Triggers,
		h,
		triggers.WithConsumerLogger(slog.Default()),
	)
	if err != nil {
		h.Close()
		redisClient.Close()
		return nil, fmt.Errorf("%s: failed to create trigger consumer: %w", op, err)
	}

	impl := &ServerImpl{
		redisClient: redisClient,
		cache:       store,
		hub:         h,
		consumer:    consumer,
		registry:    registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 不做來源驗證，身分驗證由前端代理處理
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
		config: config,
	}
	impl.router = impl.newRouter()
	impl.httpServer = &http.Server{
		Addr:    config.ListenAddr,
		Handler: impl.router,
	}
	return impl, nil
}

func (impl *ServerImpl) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(impl.config.WSPath, impl.GetWebsocket)
	router.GET("/healthz", impl.GetHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(impl.registry, promhttp.HandlerOpts{})))
	return router
}

// Handler 回傳路由，供測試或外部 http.Server 使用
func (impl *ServerImpl) Handler() http.Handler {
	return impl.router
}

// Hub 回傳連線管理器，同一行程內的業務邏輯可直接呼叫廣播入口
func (impl *ServerImpl) Hub() hub.IHub {
	return impl.hub
}

// Start 啟動觸發事件消費者
func (impl *ServerImpl) Start() {
	impl.consumer.Start()
}

// ListenAndServe 啟動 HTTP 伺服器，直到 Close 被呼叫
func (impl *ServerImpl) ListenAndServe() error {
	impl.logger.Info("listening", slog.String("addr", impl.config.ListenAddr), slog.String("wsPath", impl.config.WSPath))
	if err := impl.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

// Close 依序停止 HTTP 伺服器、消費者與連線管理器，可重複呼叫
func (impl *ServerImpl) Close() {
	impl.mu.Lock()
	if impl.closed {
		impl.mu.Unlock()
		return
	}
	impl.closed = true
	impl.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := impl.httpServer.Shutdown(ctx); err != nil {
		impl.logger.Error("failed to shutdown http server", slog.Any("error", err))
	}
	// 關閉consumer
	impl.consumer.Close()
	// 關閉所有WebSocket連線
	impl.hub.Close()
	if err := impl.redisClient.Close(); err != nil {
		impl.logger.Error("failed to close redis client", slog.Any("error", err))
	}
	impl.logger.Info("server closed")
}

// Upgrade to a WebSocket connection
// (GET {ws-path})
func (impl *ServerImpl) GetWebsocket(c *gin.Context) {
	conn, err := impl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已回應錯誤狀態碼
		impl.logger.Warn("failed to upgrade connection", slog.String("remote", c.ClientIP()), slog.Any("error", err))
		return
	}
	if err := impl.hub.ServeWebsocket(conn); err != nil {
		impl.logger.Warn("connection rejected", slog.String("remote", c.ClientIP()), slog.Any("error", err))
	}
}

// Report liveness and the number of open connections
// (GET /healthz)
func (impl *ServerImpl) GetHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": impl.hub.Len(),
	})
}
