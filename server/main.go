package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/campuskit/remotehub/pkg/config"
	"github.com/campuskit/remotehub/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	configPath = flag.String("config", "", "Server config file path")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	dbPath     = flag.String("db", "", "Database path (overrides config)")
	Version    = "dev"
)

// Server wires the registry, command queue, and per-client locks behind
// the HTTP surface.
type Server struct {
	db           *gorm.DB
	cfg          *config.ServerConfig
	logger       zerolog.Logger
	registry     *Registry
	queue        *CommandQueue
	locks        *clientLocks
	onlineWindow time.Duration
}

func (s *Server) now() time.Time {
	return time.Now().UTC()
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	bootLogger := zerolog.New(os.Stderr)
	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid config")
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("remotehub server starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := telemetry.Setup(ctx, "remotehub-server", Version, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	if err := db.AutoMigrate(&Client{}, &Command{}); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	srv := newServer(db, cfg, logger)

	if cfg.AdminToken == "" {
		logger.Warn().Msg("no admin token configured, admin API disabled")
	}

	if cfg.Liveness.SweepEnabled {
		monitor := NewLivenessMonitor(
			srv.registry, srv.queue, srv.locks, logger,
			time.Duration(cfg.Liveness.SweepIntervalMinutes)*time.Minute,
			time.Duration(cfg.Liveness.OnlineWindowSeconds)*time.Second,
			time.Duration(cfg.Liveness.DeadWindowMinutes)*time.Minute,
		)
		go monitor.Run(ctx)
	} else {
		logger.Warn().Msg("dead client sweep disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(withRequestContext(logger))
	srv.registerProtocolRoutes(r)
	srv.registerAdminRoutes(r)
	r.GET("/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})

	logger.Info().Str("listen", cfg.Listen).Msg("listening")
	if err := r.Run(cfg.Listen); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func newServer(db *gorm.DB, cfg *config.ServerConfig, logger zerolog.Logger) *Server {
	onlineWindow := time.Duration(cfg.Liveness.OnlineWindowSeconds) * time.Second
	rotationPeriod := time.Duration(cfg.Rotation.PeriodMinutes) * time.Minute
	return &Server{
		db:           db,
		cfg:          cfg,
		logger:       logger,
		registry:     NewRegistry(db, logger, rotationPeriod, onlineWindow),
		queue:        NewCommandQueue(db, logger),
		locks:        newClientLocks(),
		onlineWindow: onlineWindow,
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil {
		level = parsed
	}

	if cfg.JSON {
		return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger().Level(level)
}
