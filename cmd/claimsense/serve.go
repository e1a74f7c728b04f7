package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/claimsense/claimsense/internal/config"
	"github.com/claimsense/claimsense/internal/domain/billing"
	"github.com/claimsense/claimsense/internal/domain/claimrecord"
	"github.com/claimsense/claimsense/internal/domain/coding"
	"github.com/claimsense/claimsense/internal/domain/notes"
	"github.com/claimsense/claimsense/internal/domain/processing"
	"github.com/claimsense/claimsense/internal/domain/validation"
	"github.com/claimsense/claimsense/internal/platform/api"
	"github.com/claimsense/claimsense/internal/platform/audit"
	"github.com/claimsense/claimsense/internal/platform/middleware"
	"github.com/claimsense/claimsense/internal/platform/progress"
	"github.com/claimsense/claimsense/internal/platform/reasoning"
)

const shutdownTimeout = 10 * time.Second

// multipartOverhead is headroom on top of MAX_UPLOAD_BYTES for the
// multipart envelope around the file.
const multipartOverhead = 64 << 10

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the note processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

// app holds everything the server needs, wired from the config.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	echo      *echo.Echo
	processor *processing.Processor
	closers   []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close")
		}
	}
}

// newBillingService loads the code registry and rule set, from the
// configured files when set and the embedded defaults otherwise.
func newBillingService(cfg *config.Config, reasoner reasoning.Provider, recorder audit.Recorder, logger zerolog.Logger) (*billing.Service, error) {
	var (
		reg   *coding.Registry
		rules *validation.RuleSet
		err   error
	)
	if cfg.CodesFile != "" {
		reg, err = coding.LoadRegistry(cfg.CodesFile)
	} else {
		reg, err = coding.DefaultRegistry()
	}
	if err != nil {
		return nil, fmt.Errorf("load code registry: %w", err)
	}
	if cfg.RulesFile != "" {
		rules, err = validation.LoadRules(cfg.RulesFile)
	} else {
		rules, err = validation.DefaultRules()
	}
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	mapper := coding.NewMapper(reg)
	return billing.NewService(mapper, validation.NewEngine(rules, mapper), reasoner, recorder, logger), nil
}

func newReasoner(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (reasoning.Provider, func() error, error) {
	switch cfg.ReasoningProvider {
	case config.ProviderOpenAI:
		return reasoning.NewOpenAI(reasoning.OpenAIConfig{
			BaseURL: cfg.ReasoningBaseURL,
			APIKey:  cfg.ReasoningAPIKey,
			Model:   cfg.ReasoningModel,
			RPS:     cfg.ReasoningRPS,
			Timeout: cfg.ProcessorItemTimeout,
		}, logger), nil, nil
	case config.ProviderMCP:
		p, err := reasoning.DialMCP(ctx, cfg.ReasoningMCPEndpoint)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return reasoning.NewOffline(), nil, nil
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	reasoner, closeReasoner, err := newReasoner(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("reasoning provider: %w", err)
	}
	if closeReasoner != nil {
		a.closers = append(a.closers, closeReasoner)
	}
	logger.Info().Str("provider", reasoner.Name()).Msg("reasoning provider ready")

	auditLog, err := audit.Open(cfg.DataFile("audit_log.json"), cfg.AuditRetention, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	noteStore, err := notes.OpenStore(cfg.DataFile("notes.json"), logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	claimStore, err := claimrecord.OpenStore(cfg.DataFile("claims.json"), logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	billingSvc, err := newBillingService(cfg, reasoner, auditLog, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	broadcaster := progress.NewBroadcaster(progress.DefaultBuffer)
	a.processor = processing.NewProcessor(processing.Config{
		MaxConcurrency: cfg.ProcessorMaxConcurrency,
		InterItemDelay: cfg.ProcessorInterItemDelay,
		MaxRetries:     cfg.ProcessorMaxRetries,
		RetryBaseDelay: cfg.ProcessorRetryBaseDelay,
		ItemTimeout:    cfg.ProcessorItemTimeout,
	}, noteStore, claimStore, billingSvc, broadcaster, logger)
	a.closers = append(a.closers, func() error {
		a.processor.Stop()
		return nil
	})

	noteSvc := notes.NewService(noteStore, a.processor, cfg.MaxUploadBytes, logger)

	bodyLimit, err := middleware.ParseLimit(cfg.BodyLimit)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("BODY_LIMIT: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader, "Mcp-Session-Id", "Mcp-Protocol-Version"},
	}))
	e.Use(middleware.BodyLimit(bodyLimit, map[string]int64{
		"/api/notes/upload": cfg.MaxUploadBytes + multipartOverhead,
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/ws/", "/api/processor/progress", "/mcp"))

	e.GET("/health", func(c echo.Context) error {
		return api.OK(c, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	apiGroup := e.Group("/api")
	wsGroup := e.Group("/ws")
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
		rl.BurstSize = cfg.RateLimitBurst
	}
	apiGroup.Use(middleware.RateLimit(rl))

	notes.NewHandler(noteSvc).RegisterRoutes(apiGroup)
	claimrecord.NewHandler(claimStore).RegisterRoutes(apiGroup)
	processing.NewHandler(a.processor).RegisterRoutes(apiGroup)
	progress.NewHandler(broadcaster, logger).RegisterRoutes(apiGroup, wsGroup)
	billing.NewHandler(billingSvc).RegisterRoutes(apiGroup)
	audit.NewHandler(auditLog).RegisterRoutes(apiGroup)

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "claimsense", Version: version}, nil)
	billingSvc.RegisterMCP(mcpServer)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpServer }, nil)
	e.Any("/mcp", echo.WrapHandler(mcpHandler))

	a.echo = e
	return a, nil
}

func runServer(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()

	if cfg.ProcessorAutostart {
		if err := a.processor.Start(ctx); err != nil {
			return fmt.Errorf("start processor: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		a.processor.Stop()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.echo.Shutdown(sctx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("server stopped")
	return err
}
