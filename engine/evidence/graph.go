// Package evidence records retrieval reports in Neo4j as a graph of themes,
// questions, transcripts and the chunks that answer them:
//
//	(Theme)-[:HAS_QUESTION]->(Question)-[:EVIDENCED_BY {similarity, rank}]->(Chunk)<-[:HAS_CHUNK]-(Transcript)
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/interview-insights/engine/domain"
	"github.com/WessleyAI/interview-insights/pkg/repo"
)

var questionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("github.com/WessleyAI/interview-insights/questions"))

const clearEvidenceCypher = `MATCH (q:Question {id: $qid})-[old:EVIDENCED_BY]->() DELETE old`

const storeQuestionCypher = `MERGE (t:Theme {name: $theme})
MERGE (q:Question {id: $qid})
SET q.text = $question, q.theme = $theme, q.position = $position
MERGE (t)-[:HAS_QUESTION]->(q)
WITH q
UNWIND $evidence AS e
MERGE (f:Transcript {id: e.file_id})
SET f.label = e.label
MERGE (c:Chunk {file_id: e.file_id, chunk_id: e.chunk_id})
SET c.content = e.content
MERGE (f)-[:HAS_CHUNK]->(c)
MERGE (q)-[r:EVIDENCED_BY]->(c)
SET r.similarity = e.similarity, r.rank = e.rank`

const evidenceCypher = `MATCH (q:Question {id: $qid})-[r:EVIDENCED_BY]->(c:Chunk)<-[:HAS_CHUNK]-(f:Transcript)
RETURN c.chunk_id AS chunk_id, f.id AS file_id, f.label AS label, c.content AS content, r.similarity AS similarity
ORDER BY r.rank`

// Question is a stored guide question.
type Question struct {
	ID       string `json:"id"`
	Theme    string `json:"theme"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// Graph writes and reads the evidence graph.
type Graph struct {
	sessions  repo.SessionFactory
	questions *repo.Neo4jRepo[Question, string]
	logger    *slog.Logger
}

// New creates a Graph on a Neo4j driver.
func New(driver neo4j.DriverWithContext, database string, logger *slog.Logger) *Graph {
	return NewWithSessions(repo.DriverSessions(driver, database), logger)
}

// NewWithSessions creates a Graph over a custom session factory.
func NewWithSessions(sessions repo.SessionFactory, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		sessions:  sessions,
		questions: repo.NewNeo4jRepo[Question, string](sessions, "Question", questionFromRecord, repo.WithOrderKey[Question, string]("position")),
		logger:    logger,
	}
}

// QuestionID is the stable node ID of a themed question.
func QuestionID(theme, question string) string {
	return uuid.NewSHA1(questionNamespace, []byte(theme+"\x00"+question)).String()
}

// StoreReport writes every answered question of report. A question's
// previous evidence edges are replaced; failed questions are skipped.
func (g *Graph) StoreReport(ctx context.Context, report *domain.Report) error {
	var errs []error
	stored := 0
	for i, q := range report.Questions {
		if q.Err != "" {
			continue
		}
		if err := g.storeQuestion(ctx, i, q); err != nil {
			errs = append(errs, fmt.Errorf("evidence: question %q: %w", q.Question, err))
			continue
		}
		stored++
	}
	g.logger.Debug("evidence graph updated", "questions", stored, "failed", len(errs))
	return errors.Join(errs...)
}

func (g *Graph) storeQuestion(ctx context.Context, position int, q domain.QuestionEvidence) error {
	qid := QuestionID(q.Theme, q.Question)
	if err := repo.Exec(ctx, g.sessions, clearEvidenceCypher, map[string]any{"qid": qid}); err != nil {
		return err
	}

	rows := make([]map[string]any, len(q.Evidence))
	for i, e := range q.Evidence {
		rows[i] = map[string]any{
			"chunk_id":   e.ChunkID,
			"file_id":    e.SourceFileID,
			"label":      e.SourceLabel,
			"content":    e.Content,
			"similarity": e.Similarity,
			"rank":       i + 1,
		}
	}
	return repo.Exec(ctx, g.sessions, storeQuestionCypher, map[string]any{
		"qid":      qid,
		"theme":    q.Theme,
		"question": q.Question,
		"position": position,
		"evidence": rows,
	})
}

// Questions lists stored questions by guide position.
func (g *Graph) Questions(ctx context.Context, opts repo.ListOpts) ([]Question, error) {
	qs, err := g.questions.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("evidence: list questions: %w", err)
	}
	return qs, nil
}

// Evidence returns the stored evidence of one question in rank order.
func (g *Graph) Evidence(ctx context.Context, theme, question string) ([]domain.Evidence, error) {
	qid := QuestionID(theme, question)
	if _, err := g.questions.Get(ctx, qid); err != nil {
		return nil, fmt.Errorf("evidence: %w", err)
	}

	sess := g.sessions(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, evidenceCypher, map[string]any{"qid": qid})
	if err != nil {
		return nil, fmt.Errorf("evidence: query: %w", err)
	}

	var out []domain.Evidence
	for result.Next(ctx) {
		rec := result.Record()
		out = append(out, domain.Evidence{
			ChunkID:      str(rec, "chunk_id"),
			SourceFileID: str(rec, "file_id"),
			SourceLabel:  str(rec, "label"),
			Content:      str(rec, "content"),
			Similarity:   floatValue(rec, "similarity"),
		})
	}
	return out, nil
}

func questionFromRecord(rec *neo4j.Record) (Question, error) {
	raw, ok := rec.Get("n")
	if !ok {
		return Question{}, errors.New("evidence: record has no node")
	}
	node, ok := raw.(dbtype.Node)
	if !ok {
		return Question{}, fmt.Errorf("evidence: unexpected node type %T", raw)
	}
	pos, _ := node.Props["position"].(int64)
	theme, _ := node.Props["theme"].(string)
	text, _ := node.Props["text"].(string)
	id, _ := node.Props["id"].(string)
	return Question{ID: id, Theme: theme, Text: text, Position: int(pos)}, nil
}

func str(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func floatValue(rec *neo4j.Record, key string) float64 {
	v, _ := rec.Get(key)
	f, _ := v.(float64)
	return f
}
