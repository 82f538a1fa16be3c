// Package domain defines the core types shared by the guide parser, the
// embedding gateway, vector search and the retrieval orchestrator. It also
// acts as the validation gate for transcript input before any embedding work.
package domain

// DefaultTheme is assigned to guide questions that carry no theme.
const DefaultTheme = "General"

// GuideQuestion is a themed question extracted from a discussion guide.
type GuideQuestion struct {
	Theme    string `json:"theme"`
	Question string `json:"question"`
}

// Vector is a fixed-length embedding.
type Vector []float32

// TranscriptChunk is a bounded excerpt of a transcript produced by a chunker.
type TranscriptChunk struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	StartChar    int    `json:"start_char"`
	EndChar      int    `json:"end_char"`
	TokenCount   int    `json:"token_count"`
	Embedding    Vector `json:"embedding,omitempty"`
	SourceFileID string `json:"source_file_id"`
	SourceLabel  string `json:"source_label"`
}

// ChunkKey identifies a chunk across files. Chunk IDs are only unique within
// the collection of a single file.
type ChunkKey struct {
	FileID string
	ID     string
}

func (k ChunkKey) String() string {
	return k.FileID + "/" + k.ID
}

// Key returns the chunk's cross-file identity.
func (c TranscriptChunk) Key() ChunkKey {
	return ChunkKey{FileID: c.SourceFileID, ID: c.ID}
}

// TranscriptFile is one interview transcript. Either Chunks or Text must be
// set; Text is chunked by the default chunker when Chunks is empty.
type TranscriptFile struct {
	ID     string            `json:"id"`
	Label  string            `json:"label"`
	Text   string            `json:"text,omitempty"`
	Chunks []TranscriptChunk `json:"chunks,omitempty"`
}

// SearchResult is a ranked chunk. Rank is dense and 1-based within the list
// it belongs to.
type SearchResult struct {
	Chunk      TranscriptChunk `json:"chunk"`
	Similarity float64         `json:"similarity"`
	Rank       int             `json:"rank"`
}

// Budget is the per-request retrieval budget derived from the input size.
type Budget struct {
	MaxChunksPerQuestion    int  `json:"max_chunks_per_question"`
	CostOptimizationEnabled bool `json:"cost_optimization_enabled"`
}

// Evidence is a transcript passage handed to the report builder.
type Evidence struct {
	ChunkID      string  `json:"chunk_id"`
	SourceFileID string  `json:"source_file_id"`
	SourceLabel  string  `json:"source_label"`
	Content      string  `json:"content"`
	Similarity   float64 `json:"similarity"`
}

// QuestionEvidence is the evidence set for one guide question.
type QuestionEvidence struct {
	Theme    string     `json:"theme"`
	Question string     `json:"question"`
	Evidence []Evidence `json:"evidence"`
	Err      string     `json:"error,omitempty"`
}

// Report is the outcome of one retrieval request. Questions follow guide order.
type Report struct {
	Questions []QuestionEvidence `json:"questions"`
	Budget    Budget             `json:"budget"`
	FileCount int                `json:"file_count"`
}

// EvidenceFromResult converts a ranked search result into report evidence.
func EvidenceFromResult(r SearchResult) Evidence {
	return Evidence{
		ChunkID:      r.Chunk.ID,
		SourceFileID: r.Chunk.SourceFileID,
		SourceLabel:  r.Chunk.SourceLabel,
		Content:      r.Chunk.Content,
		Similarity:   r.Similarity,
	}
}
