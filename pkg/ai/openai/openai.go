package openai

import (
	"sync"

	"github.com/triad-med/triad/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GraphOpenAIClient is a client for interacting with AI models used in the
// study ingest and analysis pipeline. It manages separate OpenAI clients
// for embeddings, chat/completion and vision tasks.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel   string
	descriptionModel string
	extractionModel  string
	imageModel       string

	embeddingURL string
	embeddingKey string
	chatURL      string
	chatKey      string
	imageURL     string
	imageKey     string

	embeddingLock *semaphore.Weighted
	imageLock     *semaphore.Weighted
	timeoutMin    int64

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
	ImageClient     *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// EmbeddingModel specifies the model used for embeddings.
// DescriptionModel specifies the model used for generating descriptions.
// ExtractionModel specifies the model used for structured extraction.
// ImageModel specifies the vision model used for image transcription.
// The URL/Key pairs configure the per-task API endpoints.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel   string
	DescriptionModel string
	ExtractionModel  string
	ImageModel       string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string
	ImageURL     string
	ImageKey     string

	MaxConcurrentRequests int64
	RequestTimeoutMin     int64
}

// NewGraphOpenAIClient creates and returns a new GraphOpenAIClient
// configured with the provided parameters. It initializes separate OpenAI
// clients for embeddings, chat/completion and vision tasks.
//
// Example:
//
//	params := openai.NewGraphOpenAIClientParams{
//		EmbeddingModel:   "text-embedding-3-small",
//		DescriptionModel: "gpt-4o-mini",
//		ExtractionModel:  "gpt-4o-mini",
//		EmbeddingURL:     "https://api.openai.com/v1",
//		EmbeddingKey:     os.Getenv("OPENAI_API_KEY"),
//		ChatURL:          "https://api.openai.com/v1",
//		ChatKey:          os.Getenv("OPENAI_API_KEY"),
//	}
//	client := openai.NewGraphOpenAIClient(params)
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)
	embedClient := newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey)
	imageClient := newOpenaiClient(params.ImageURL, params.ImageKey)

	maxReq := params.MaxConcurrentRequests
	if maxReq < 1 {
		maxReq = 1
	}
	timeoutMin := params.RequestTimeoutMin
	if timeoutMin < 1 {
		timeoutMin = 5
	}

	return &GraphOpenAIClient{
		embeddingModel:   params.EmbeddingModel,
		descriptionModel: params.DescriptionModel,
		extractionModel:  params.ExtractionModel,
		imageModel:       params.ImageModel,

		chatURL:      params.ChatURL,
		chatKey:      params.ChatKey,
		embeddingURL: params.EmbeddingURL,
		embeddingKey: params.EmbeddingKey,
		imageURL:     params.ImageURL,
		imageKey:     params.ImageKey,

		embeddingLock: semaphore.NewWeighted(maxReq),
		imageLock:     semaphore.NewWeighted(maxReq),
		timeoutMin:    timeoutMin,

		metricsLock: sync.Mutex{},
		metrics: ai.ModelMetrics{
			InputTokens:  0,
			OutputTokens: 0,
			TotalTokens:  0,
			DurationMs:   0,
		},

		ChatClient:      chatClient,
		EmbeddingClient: embedClient,
		ImageClient:     imageClient,
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
