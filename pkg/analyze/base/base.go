package base

import (
	"time"

	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/analyze"
	"github.com/triad-med/triad/pkg/consensus"
	"github.com/triad-med/triad/pkg/evidence"
	"github.com/triad-med/triad/pkg/loader"
	"github.com/triad-med/triad/pkg/store"
)

// answerTemperature keeps mode answers deterministic enough to agree with
// each other across runs.
const answerTemperature = 0.2

type analyzeOptions struct {
	SystemPrompts []string
	Model         string
	Thinking      string
	ModeTimeout   time.Duration
	MaxRetries    int
	Tracer        analyze.Tracer
}

// AnalyzeOption is a functional option for configuring pipeline behavior.
type AnalyzeOption func(*analyzeOptions)

// WithSystemPrompts returns an AnalyzeOption that appends additional system
// prompts to every mode answer request.
func WithSystemPrompts(prompts ...string) AnalyzeOption {
	return func(o *analyzeOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompts...)
	}
}

// WithModel returns an AnalyzeOption that specifies which AI model to use
// for mode answers and transcription.
func WithModel(model string) AnalyzeOption {
	return func(o *analyzeOptions) {
		o.Model = model
	}
}

// WithThinking returns an AnalyzeOption that enables extended thinking mode
// for mode answers.
func WithThinking(thinking string) AnalyzeOption {
	return func(o *analyzeOptions) {
		o.Thinking = thinking
	}
}

// WithModeTimeout returns an AnalyzeOption that bounds each individual mode
// run. The request-level timeout still caps the whole pipeline.
func WithModeTimeout(timeout time.Duration) AnalyzeOption {
	return func(o *analyzeOptions) {
		o.ModeTimeout = timeout
	}
}

// WithMaxRetries returns an AnalyzeOption that sets how many attempts each
// AI call gets before its stage is recorded as failed.
func WithMaxRetries(maxRetries int) AnalyzeOption {
	return func(o *analyzeOptions) {
		o.MaxRetries = maxRetries
	}
}

// WithTracer returns an AnalyzeOption that forwards every trace event of
// every run to the given tracer, in addition to the per-run collection.
func WithTracer(tracer analyze.Tracer) AnalyzeOption {
	return func(o *analyzeOptions) {
		o.Tracer = tracer
	}
}

// BaseAnalyzeClient runs the multi-mode analysis pipeline. It combines the
// AI client for transcription and answers, the storage client for upserts
// and retrieval, the image loader for study bytes, the evidence assembler,
// and the consensus engine.
type BaseAnalyzeClient struct {
	aiClient      ai.GraphAIClient
	storageClient store.GraphStorage
	imageLoader   loader.GraphFileLoader
	assembler     *evidence.Assembler
	engine        *consensus.Engine
	options       analyzeOptions
}

// NewGraphAnalyzeClientParams defines the collaborators of a
// BaseAnalyzeClient. Assembler and Engine may be nil; defaults are built
// from Storage and the environment.
type NewGraphAnalyzeClientParams struct {
	AIClient    ai.GraphAIClient
	Storage     store.GraphStorage
	ImageLoader loader.GraphFileLoader
	Assembler   *evidence.Assembler
	Engine      *consensus.Engine
}

// NewGraphAnalyzeClient creates a new GraphAnalyzeClient.
//
// Example:
//
//	client := base.NewGraphAnalyzeClient(base.NewGraphAnalyzeClientParams{
//		AIClient:    aiClient,
//		Storage:     storageClient,
//		ImageLoader: imageLoader,
//	})
func NewGraphAnalyzeClient(params NewGraphAnalyzeClientParams, opts ...AnalyzeOption) *BaseAnalyzeClient {
	c := BaseAnalyzeClient{
		aiClient:      params.AIClient,
		storageClient: params.Storage,
		imageLoader:   params.ImageLoader,
		assembler:     params.Assembler,
		engine:        params.Engine,
	}

	if c.assembler == nil {
		c.assembler = evidence.NewAssembler(evidence.NewAssemblerParams{Storage: params.Storage})
	}
	if c.engine == nil {
		c.engine = consensus.NewEngine(consensus.NewEngineParams{Config: consensus.ConfigFromEnv()})
	}

	for _, o := range opts {
		o(&c.options)
	}

	if c.options.ModeTimeout <= 0 {
		c.options.ModeTimeout = 30 * time.Second
	}
	if c.options.MaxRetries <= 0 {
		c.options.MaxRetries = 2
	}

	return &c
}

// generateOpts builds the AI option list every answer request shares.
func (c *BaseAnalyzeClient) generateOpts() []ai.GenerateOption {
	generateOpts := []ai.GenerateOption{
		ai.WithTemperature(answerTemperature),
	}
	if len(c.options.SystemPrompts) > 0 {
		generateOpts = append(generateOpts, ai.WithSystemPrompts(c.options.SystemPrompts...))
	}
	if c.options.Model != "" {
		generateOpts = append(generateOpts, ai.WithModel(c.options.Model))
	}
	if c.options.Thinking != "" {
		generateOpts = append(generateOpts, ai.WithThinking(c.options.Thinking))
	}
	return generateOpts
}
