package graph

// GraphClient is the main client for building the imaging knowledge graph
// from radiology reports. It manages token encoding for report chunking,
// concurrent AI extraction requests, and similarity linking bounds.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	tokenEncoder        string
	unitMaxTokens       int
	parallelAiRequests  int
	maxRetries          int
	similarityThreshold float64
	similarityTopK      int
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// TokenEncoder specifies the encoding used to budget report chunks.
// UnitMaxTokens caps the token size of a single extraction chunk.
// ParallelAiRequests controls how many AI requests can be executed concurrently.
// SimilarityThreshold and SimilarityTopK bound SIMILAR_TO linking.
type NewGraphClientParams struct {
	TokenEncoder        string
	UnitMaxTokens       int
	ParallelAiRequests  int
	MaxRetries          int
	SimilarityThreshold float64
	SimilarityTopK      int
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters. Zero-valued parameters fall back to defaults.
//
// Example:
//
//	params := graph.NewGraphClientParams{
//		TokenEncoder:       "o200k_base",
//		UnitMaxTokens:      500,
//		ParallelAiRequests: 4,
//	}
//	client, err := graph.NewGraphClient(params)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Returns a pointer to GraphClient and an error if initialization fails.
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	g := &GraphClient{
		tokenEncoder:        params.TokenEncoder,
		unitMaxTokens:       params.UnitMaxTokens,
		parallelAiRequests:  params.ParallelAiRequests,
		maxRetries:          params.MaxRetries,
		similarityThreshold: params.SimilarityThreshold,
		similarityTopK:      params.SimilarityTopK,
	}
	if g.tokenEncoder == "" {
		g.tokenEncoder = "o200k_base"
	}
	if g.unitMaxTokens <= 0 {
		g.unitMaxTokens = 500
	}
	if g.parallelAiRequests <= 0 {
		g.parallelAiRequests = 4
	}
	if g.maxRetries <= 0 {
		g.maxRetries = 3
	}
	if g.similarityThreshold <= 0 {
		g.similarityThreshold = DefaultSimilarityThreshold
	}
	if g.similarityTopK <= 0 {
		g.similarityTopK = DefaultSimilarityTopK
	}

	return g, nil
}
