package middleware

import (
	"github.com/triad-med/triad/internal/util"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/triad-med/triad/pkg/ai"
	oai "github.com/triad-med/triad/pkg/ai/ollama"
	gai "github.com/triad-med/triad/pkg/ai/openai"
	"github.com/triad-med/triad/pkg/loader"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// App carries the shared clients of the API process. In mock mode DBConn,
// Queue, Key and S3 are nil; Store is the seeded memory store, ImageLoader
// serves placeholders, and handlers run pipeline work inline instead of
// publishing to the worker.
type App struct {
	DBConn       *pgxpool.Pool
	Queue        *amqp091.Channel
	Key          *keyfunc.Keyfunc
	S3           *s3.Client
	AiClient     ai.GraphAIClient
	Store        store.GraphStorage
	ImageLoader  loader.GraphFileLoader
	MasterAPIKey string
	MockMode     bool
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

// NewAIClientFromEnv builds the AI client selected by AI_ADAPTER.
func NewAIClientFromEnv() ai.GraphAIClient {
	adapter := util.GetEnv("AI_ADAPTER")

	switch adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
			ExtractionModel:  util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			ImageModel:       util.GetEnv("AI_IMAGE_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		return client
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
			ExtractionModel:  util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			ImageModel:       util.GetEnv("AI_IMAGE_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			ImageURL:     util.GetEnv("AI_IMAGE_URL"),
			ImageKey:     util.GetEnv("AI_IMAGE_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		})
	}
}

// AppContextMiddleware wraps every request context with the shared App.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
