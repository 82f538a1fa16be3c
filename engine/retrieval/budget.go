package retrieval

import "github.com/WessleyAI/interview-insights/engine/domain"

const (
	largeRequestFiles = 20
	costOptimizeFiles = 10

	largeRequestChunks   = 5
	defaultRequestChunks = 10
)

// DeriveBudget returns the evidence budget for a request over fileCount
// transcripts. It is computed once per request and never changes afterwards.
func DeriveBudget(fileCount int) domain.Budget {
	b := domain.Budget{
		MaxChunksPerQuestion:    defaultRequestChunks,
		CostOptimizationEnabled: fileCount > costOptimizeFiles,
	}
	if fileCount > largeRequestFiles {
		b.MaxChunksPerQuestion = largeRequestChunks
	}
	return b
}
