package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"community-hub/internal/api"
	"community-hub/internal/api/middleware"
	"community-hub/internal/event"
	hubpkg "community-hub/internal/hub"
	"community-hub/internal/metrics"
	"community-hub/internal/presence"
	"community-hub/internal/repository/postgres"
	"community-hub/internal/scheduler"
	schedulerjobs "community-hub/internal/scheduler/jobs"
	"community-hub/internal/seed"
	"community-hub/internal/service"
	"community-hub/pkg/crypto"
	jwtutil "community-hub/pkg/jwt"
)

type Config struct {
	App struct {
		Env string `mapstructure:"env"`
	} `mapstructure:"app"`
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Database struct {
		URL         string        `mapstructure:"url"`
		MaxConns    int           `mapstructure:"max_conns"`
		PingTimeout time.Duration `mapstructure:"ping_timeout"`
	} `mapstructure:"database"`
	Log struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
	} `mapstructure:"log"`
	Security struct {
		InternalToken     string `mapstructure:"internal_token"`
		InternalTokenFile string `mapstructure:"internal_token_file"`
		JWTPublicKey      string `mapstructure:"jwt_public_key"`
		JWTPublicKeyFile  string `mapstructure:"jwt_public_key_file"`
		JWTPrivateKey     string `mapstructure:"jwt_private_key"`
		JWTPrivateKeyFile string `mapstructure:"jwt_private_key_file"`
	} `mapstructure:"security"`
	Chat struct {
		EncryptionEnabled bool   `mapstructure:"encryption_enabled"`
		EncryptionKey     string `mapstructure:"encryption_key"`
		EncryptionKeyFile string `mapstructure:"encryption_key_file"`
		WSConnectLimit    int    `mapstructure:"ws_connect_limit"`
	} `mapstructure:"chat"`
	Seed struct {
		Enabled      bool   `mapstructure:"enabled"`
		ChannelsFile string `mapstructure:"channels_file"`
	} `mapstructure:"seed"`
	CORS struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
	Debug struct {
		PprofEnabled bool `mapstructure:"pprof_enabled"`
	} `mapstructure:"debug"`
}

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(runHealthcheck())
		case "migrate":
			exitOnCLIError(runMigrateCommand(os.Args[2:]))
			return
		case "create-admin":
			exitOnCLIError(runCreateAdminCommand(os.Args[2:]))
			return
		case "issue-token":
			exitOnCLIError(runIssueTokenCommand(os.Args[2:]))
			return
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer logger.Sync() //nolint:errcheck

	isDebugMode := strings.EqualFold(cfg.App.Env, "development")
	if !isDebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	publicKey, err := loadRSAPublicKey(cfg)
	if err != nil {
		logger.Fatal("load jwt public key failed", zap.Error(err))
	}
	codec, err := crypto.NewCodec(cfg.Chat.EncryptionKey, cfg.Chat.EncryptionEnabled)
	if err != nil {
		logger.Fatal("init message codec failed", zap.Error(err))
	}

	dbPool, err := newDBPool(context.Background(), cfg)
	if err != nil {
		logger.Fatal("connect database failed", zap.Error(err))
	}
	defer dbPool.Close()

	userRepo := postgres.NewUserRepository(dbPool)
	channelRepo := postgres.NewChannelRepository(dbPool)
	messageRepo := postgres.NewMessageRepository(dbPool)
	levelRepo := postgres.NewLevelRepository(dbPool)
	courseRepo := postgres.NewCourseRepository(dbPool)

	if cfg.Seed.Enabled {
		if err := seedChannels(context.Background(), cfg.Seed.ChannelsFile, channelRepo, courseRepo, logger); err != nil {
			logger.Fatal("seed default channels failed", zap.Error(err))
		}
	}

	eventBus := event.NewBus()
	registerEventSubscribers(eventBus, logger)

	authSvc := service.NewAuthService(publicKey)
	userSvc := service.NewUserService(userRepo, courseRepo, eventBus, logger)
	channelSvc := service.NewChannelService(channelRepo, courseRepo, logger)
	levelSvc := service.NewLevelService(levelRepo, eventBus, logger)
	messageSvc := service.NewMessageService(messageRepo, userRepo, levelSvc, codec, eventBus, logger)

	broker := hubpkg.NewBroker(logger)
	tracker := presence.NewTracker(broker, eventBus, logger)
	pipeline := hubpkg.NewChatPipeline(userSvc, channelSvc, messageSvc, codec, broker, logger)
	hub := hubpkg.NewHub(hubpkg.Deps{
		Broker:   broker,
		Presence: tracker,
		Users:    userSvc,
		Channels: channelSvc,
		Pipeline: pipeline,
		Codec:    codec,
	}, logger)
	defer hub.Close()

	metricsJob := schedulerjobs.NewMetricsJob(tracker, hub, userSvc, channelSvc, logger)
	metricsJob.SyncPresence()
	metricsJob.SyncTotals()

	cronRunner := scheduler.NewScheduler(scheduler.Deps{
		PresenceJob: metricsJob,
		TotalsJob:   metricsJob,
	}, logger)
	cronRunner.Start()
	defer func() {
		stopCtx := cronRunner.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(2 * time.Second):
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(buildCORSMiddleware(cfg))
	router.Use(middleware.RequestLogger(logger))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	readyHandler := func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.Database.PingTimeout)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  "database unavailable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":      "ready",
			"connections": hub.ConnectedCount(),
			"online":      tracker.Count(),
		})
	}

	router.GET("/health", healthHandler)
	router.GET("/health/ready", readyHandler)
	router.GET("/api/v1/health", healthHandler)
	router.GET("/api/v1/health/ready", readyHandler)

	if isDebugMode && cfg.Debug.PprofEnabled {
		registerPprofRoutes(router)
		logger.Info("pprof endpoint enabled", zap.String("path", "/debug/pprof/"))
	}

	api.RegisterRoutes(router, api.RouteDeps{
		Auth:           authSvc,
		Users:          userSvc,
		Channels:       channelSvc,
		Messages:       messageSvc,
		Levels:         levelSvc,
		Presence:       tracker,
		Hub:            hub,
		Pipeline:       pipeline,
		InternalToken:  cfg.Security.InternalToken,
		AllowedOrigins: cfg.CORS.AllowOrigins,
		WSConnectLimit: cfg.Chat.WSConnectLimit,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	logger.Info("server started",
		zap.String("addr", srv.Addr),
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
		zap.Bool("encryption", codec.Enabled()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			logger.Fatal("server exited unexpectedly", zap.Error(err))
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown server failed", zap.Error(err))
	}
}

func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env failed: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("CHATHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "CHATHUB_DATABASE_URL", "DATABASE_URL")

	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.ping_timeout", "3s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("security.internal_token", "")
	v.SetDefault("security.internal_token_file", "")
	v.SetDefault("security.jwt_public_key", "")
	v.SetDefault("security.jwt_public_key_file", "")
	v.SetDefault("security.jwt_private_key", "")
	v.SetDefault("security.jwt_private_key_file", "")
	v.SetDefault("chat.encryption_enabled", true)
	v.SetDefault("chat.encryption_key", "")
	v.SetDefault("chat.encryption_key_file", "")
	v.SetDefault("chat.ws_connect_limit", 30)
	v.SetDefault("seed.enabled", true)
	v.SetDefault("seed.channels_file", "config/channels.yaml")
	v.SetDefault("cors.allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("debug.pprof_enabled", false)

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) {
			return Config{}, fmt.Errorf("read config file failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config failed: %w", err)
	}

	secrets := []struct {
		name  string
		value *string
		file  string
	}{
		{"security.internal_token", &cfg.Security.InternalToken, cfg.Security.InternalTokenFile},
		{"security.jwt_public_key", &cfg.Security.JWTPublicKey, cfg.Security.JWTPublicKeyFile},
		{"security.jwt_private_key", &cfg.Security.JWTPrivateKey, cfg.Security.JWTPrivateKeyFile},
		{"chat.encryption_key", &cfg.Chat.EncryptionKey, cfg.Chat.EncryptionKeyFile},
	}
	for _, secret := range secrets {
		if err := readSecretFile(secret.value, secret.file); err != nil {
			return Config{}, fmt.Errorf("read %s_file failed: %w", secret.name, err)
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readSecretFile fills value from path when value is empty.
func readSecretFile(value *string, path string) error {
	path = strings.TrimSpace(path)
	if strings.TrimSpace(*value) != "" || path == "" {
		return nil
	}
	// #nosec G304 -- path is provided by operator config.
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	*value = strings.TrimSpace(string(raw))
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Database.MaxConns <= 0 {
		return errors.New("database.max_conns must be greater than 0")
	}
	if cfg.Database.PingTimeout <= 0 {
		return errors.New("database.ping_timeout must be greater than 0")
	}
	if cfg.Chat.EncryptionEnabled {
		if err := crypto.CheckKey(cfg.Chat.EncryptionKey); err != nil {
			return fmt.Errorf("chat.encryption_key: %w", err)
		}
	}
	if cfg.Chat.WSConnectLimit <= 0 {
		return errors.New("chat.ws_connect_limit must be greater than 0")
	}

	if len(cfg.CORS.AllowOrigins) == 0 {
		return errors.New("cors.allow_origins must not be empty")
	}
	for _, origin := range cfg.CORS.AllowOrigins {
		if strings.TrimSpace(origin) == "*" {
			return errors.New("cors.allow_origins must not contain wildcard *")
		}
	}
	return nil
}

func newLogger(cfg Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if strings.EqualFold(cfg.App.Env, "development") {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return nil, fmt.Errorf("invalid log.level: %w", err)
		}
	}

	if cfg.Log.Encoding != "" {
		zapCfg.Encoding = cfg.Log.Encoding
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger failed: %w", err)
	}
	return logger, nil
}

func newDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database.url failed: %w", err)
	}

	const maxInt32 = int(^uint32(0) >> 1)
	if cfg.Database.MaxConns > maxInt32 {
		return nil, fmt.Errorf("database.max_conns must be <= %d", maxInt32)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxConns) // #nosec G115 -- validated upper bound above.

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}

	return pool, nil
}

func loadRSAPublicKey(cfg Config) (*rsa.PublicKey, error) {
	pem := strings.TrimSpace(cfg.Security.JWTPublicKey)
	if pem == "" {
		return nil, errors.New("jwt public key not configured")
	}
	return jwtutil.ParsePublicKey([]byte(pem))
}

func loadRSAPrivateKey(cfg Config) (*rsa.PrivateKey, error) {
	pem := strings.TrimSpace(cfg.Security.JWTPrivateKey)
	if pem == "" {
		return nil, errors.New("jwt private key not configured")
	}
	return jwtutil.ParsePrivateKey([]byte(pem))
}

func seedChannels(
	ctx context.Context,
	path string,
	channels seed.ChannelStore,
	courses seed.CourseStore,
	logger *zap.Logger,
) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("channel seed file not found, skipping", zap.String("path", path))
		return nil
	}

	file, err := seed.Load(path)
	if err != nil {
		return err
	}

	seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = seed.NewSeeder(channels, courses, logger).Apply(seedCtx, file)
	return err
}

func registerEventSubscribers(bus *event.Bus, logger *zap.Logger) {
	if bus == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bus.Subscribe(event.EventPresenceChanged, func(payload any) {
		if changed, ok := payload.(event.PresenceChangedPayload); ok {
			metrics.SetOnlineUsers(changed.OnlineCount)
		}
	})

	bus.Subscribe(event.EventMessageCreated, func(payload any) {
		if _, ok := payload.(event.MessageCreatedPayload); ok {
			metrics.IncMessagesPersisted()
		}
	})

	// LevelService logs the change itself.
	bus.Subscribe(event.EventUserLevelUp, func(payload any) {
		if _, ok := payload.(event.LevelUpPayload); ok {
			metrics.IncLevelUps()
		}
	})

	bus.Subscribe(event.EventCoursePurchased, func(payload any) {
		purchased, ok := payload.(event.CoursePurchasedPayload)
		if !ok {
			return
		}
		logger.Info("course purchased",
			zap.String("user_id", purchased.UserID),
			zap.String("course_id", purchased.CourseID),
			zap.String("role", purchased.Role),
		)
	})
}

func buildCORSMiddleware(cfg Config) gin.HandlerFunc {
	origins := make([]string, 0, len(cfg.CORS.AllowOrigins))
	for _, origin := range cfg.CORS.AllowOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		origins = append(origins, trimmed)
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func registerPprofRoutes(router *gin.Engine) {
	pprofGroup := router.Group("/debug/pprof")
	pprofGroup.GET("/", gin.WrapF(pprof.Index))
	pprofGroup.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
	pprofGroup.GET("/symbol", gin.WrapF(pprof.Symbol))
	pprofGroup.GET("/trace", gin.WrapF(pprof.Trace))
	pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
	pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
}
