package retrieval

import "github.com/WessleyAI/interview-insights/engine/domain"

// Summary is the outcome of one request in a form small enough to broadcast.
type Summary struct {
	Files          int    `json:"files"`
	Questions      int    `json:"questions"`
	EvidenceChunks int    `json:"evidence_chunks"`
	Error          string `json:"error,omitempty"`
	Stage          string `json:"stage,omitempty"`
}

// Summarize condenses the result of Run for req. A partial report counts its
// questions and evidence and still carries the error.
func Summarize(req Request, report *domain.Report, err error) Summary {
	sum := Summary{Files: len(req.Files)}
	if report != nil {
		sum.Questions = len(report.Questions)
		for _, q := range report.Questions {
			sum.EvidenceChunks += len(q.Evidence)
		}
	}
	if err != nil {
		sum.Error = err.Error()
		if stage, ok := domain.StageOf(err); ok {
			sum.Stage = string(stage)
		}
	}
	return sum
}
