package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/triad-med/triad/internal/queue"
	mid "github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/internal/storage"
	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/ai"
	memloader "github.com/triad-med/triad/pkg/loader/memory"
	s3loader "github.com/triad-med/triad/pkg/loader/s3"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store/memory"
	graphstorage "github.com/triad-med/triad/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup := buildApp(ctx)
	defer cleanup()

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Warn("[API] Request failed",
					"method", v.Method, "uri", v.URI, "status", v.Status,
					"latency_ms", v.Latency.Milliseconds(), "err", v.Error)
				return nil
			}
			logger.Info("[API] Request",
				"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency_ms", v.Latency.Milliseconds())
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("4G"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// buildApp wires the shared clients. MOCK_MODE runs the whole API off the
// seeded in-memory graph with the stub AI client, no external services.
func buildApp(ctx context.Context) (*mid.App, func()) {
	masterAPIKey := util.GetEnv("MASTER_API_KEY")

	if util.GetEnvBool("MOCK_MODE", false) {
		logger.Info("Running in mock mode, serving the demo graph")
		memStore := memory.NewStore()
		memory.SeedDemo(memStore)
		return &mid.App{
			AiClient:     ai.NewMockClient(),
			Store:        memStore,
			ImageLoader:  memloader.NewMemoryGraphFileLoader(),
			MasterAPIKey: masterAPIKey,
			MockMode:     true,
		}, func() {}
	}

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	runMigrations()

	pgCfg, err := pgxpool.ParseConfig(util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Invalid database config", "err", err)
	}
	pgCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	conn, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}

	aiClient := mid.NewAIClientFromEnv()

	storeClient, err := graphstorage.NewGraphDBStorageWithConnection(ctx, conn, aiClient)
	if err != nil {
		logger.Fatal("Failed to create graph storage", "err", err)
	}

	que := queue.Init()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	imageLoader := s3loader.NewS3GraphFileLoaderWithClient(
		util.GetEnvString("AWS_BUCKET", "triad"), s3Client)

	app := &mid.App{
		DBConn:       conn,
		Queue:        ch,
		Key:          &k,
		S3:           s3Client,
		AiClient:     aiClient,
		Store:        storeClient,
		ImageLoader:  imageLoader,
		MasterAPIKey: masterAPIKey,
	}
	cleanup := func() {
		_ = ch.Close()
		_ = que.Close()
		conn.Close()
	}
	return app, cleanup
}

// runMigrations applies pending schema migrations. A database that is
// already current is not an error.
func runMigrations() {
	source := util.GetEnvString("MIGRATIONS_URL", "file://migrations")
	m, err := migrate.New(source, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Failed to open migrations", "err", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("Database schema up to date")
			return
		}
		logger.Fatal("Failed to apply migrations", "err", err)
	}
	logger.Info("Applied database migrations")
}
