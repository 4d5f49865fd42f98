package ai

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	gUtil "github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/loader"
)

// MockClient is a deterministic GraphAIClient used when MOCK_MODE is
// enabled, so demos and tests run without a model server. Completions are
// derived from recognizable prompt markers and never vary between runs.
type MockClient struct {
	metricsLock sync.Mutex
	metrics     ModelMetrics
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...GenerateOption,
) (string, error) {
	c.track(prompt)
	switch {
	case strings.Contains(prompt, "[FACTS JSON]"):
		return "mass in liver, supported by a prior similar study", nil
	case strings.Contains(prompt, "-- Report --"):
		return "mass in liver segment", nil
	default:
		return "no acute findings", nil
	}
}

func (c *MockClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...GenerateOption,
) error {
	c.track(prompt)
	var canned string
	switch name {
	case "extract_findings":
		canned = `{"findings":[{"type":"mass","location":"liver","size":2.1,"confidence":0.86}]}`
	case "dedupe_findings":
		canned = `{"duplicates":[]}`
	case "study_metadata":
		canned = `{"modality":"US","bodyPart":"abdomen","confidence":0.7}`
	default:
		canned = `{}`
	}
	return UnmarshalFlexible(canned, out)
}

func (c *MockClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	dim := int(gUtil.GetEnvNumeric("AI_EMBED_DIM", 768))
	vec := make([]float32, dim)
	if len(strings.TrimSpace(string(input))) == 0 {
		return vec, nil
	}

	h := fnv.New64a()
	h.Write(input)
	state := h.Sum64()
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		vec[i] = float32(state>>40) / float32(1<<24)
	}
	return vec, nil
}

func (c *MockClient) GenerateImageDescription(
	ctx context.Context,
	prompt string,
	base64 loader.GraphBase64,
) (string, error) {
	c.track(prompt)
	return "Grayscale ultrasound image of the abdomen. Hypoechoic mass in the liver measuring about 2 cm with well-defined margins. Remaining visible anatomy unremarkable.", nil
}

func (c *MockClient) LoadModel(ctx context.Context, opts ...GenerateOption) error {
	return nil
}

func (c *MockClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ModelMetrics{}
	c.metricsLock.Unlock()
}

func (c *MockClient) GetMetrics() ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *MockClient) track(prompt string) {
	tokens := len(prompt) / 4

	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.InputTokens += tokens
	c.metrics.TotalTokens += tokens
}
