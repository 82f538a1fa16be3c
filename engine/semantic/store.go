// Package semantic persists embedded transcript chunks in Qdrant so that
// repeated studies over the same interviews can be searched without
// re-embedding.
package semantic

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/interview-insights/engine/domain"
)

// Payload keys stored with every point.
const (
	keyContent    = "content"
	keyChunkID    = "chunk_id"
	keyFileID     = "file_id"
	keyLabel      = "label"
	keyStartChar  = "start_char"
	keyEndChar    = "end_char"
	keyTokenCount = "token_count"
)

// pointNamespace seeds deterministic point IDs, so re-storing a chunk
// overwrites its previous point.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("github.com/WessleyAI/interview-insights/chunks"))

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// ChunkStore is the sole owner of all Qdrant operations.
type ChunkStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string

	mu      sync.Mutex
	ensured bool
}

// New creates a ChunkStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*ChunkStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &ChunkStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a ChunkStore over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *ChunkStore {
	return &ChunkStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (s *ChunkStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (s *ChunkStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (s *ChunkStore) DeleteCollection(ctx context.Context) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", s.collection, err)
	}
	s.mu.Lock()
	s.ensured = false
	s.mu.Unlock()
	return nil
}

// StoreChunks replaces every stored point of fileID with the given embedded
// chunks. The collection is created on first use, sized to the chunks'
// embeddings.
func (s *ChunkStore) StoreChunks(ctx context.Context, fileID string, chunks []domain.TranscriptChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("semantic: chunk %s: %w", c.Key(), domain.ErrMissingEmbedding)
		}
	}
	if err := s.ensureOnce(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}
	if err := s.DeleteByFile(ctx, fileID); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(fileID, c.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: c.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				keyContent:    stringValue(c.Content),
				keyChunkID:    stringValue(c.ID),
				keyFileID:     stringValue(fileID),
				keyLabel:      stringValue(c.SourceLabel),
				keyStartChar:  intValue(c.StartChar),
				keyEndChar:    intValue(c.EndChar),
				keyTokenCount: intValue(c.TokenCount),
			},
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points for %s: %w", len(points), fileID, err)
	}
	return nil
}

func (s *ChunkStore) ensureOnce(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	if err := s.EnsureCollection(ctx, dims); err != nil {
		return err
	}
	s.ensured = true
	return nil
}

// DeleteByFile removes all points of a transcript file.
func (s *ChunkStore) DeleteByFile(ctx context.Context, fileID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch(keyFileID, fileID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by file %s: %w", fileID, err)
	}
	return nil
}

// Search returns stored chunks nearest to vector, ranked 1..N. A non-empty
// fileID restricts the search to that transcript.
func (s *ChunkStore) Search(ctx context.Context, vector domain.Vector, topK int, fileID string) ([]domain.SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if fileID != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch(keyFileID, fileID)}}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]domain.SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		p := r.GetPayload()
		results[i] = domain.SearchResult{
			Chunk: domain.TranscriptChunk{
				ID:           p[keyChunkID].GetStringValue(),
				Content:      p[keyContent].GetStringValue(),
				SourceFileID: p[keyFileID].GetStringValue(),
				SourceLabel:  p[keyLabel].GetStringValue(),
				StartChar:    int(p[keyStartChar].GetIntegerValue()),
				EndChar:      int(p[keyEndChar].GetIntegerValue()),
				TokenCount:   int(p[keyTokenCount].GetIntegerValue()),
			},
			Similarity: float64(r.GetScore()),
			Rank:       i + 1,
		}
	}
	return results, nil
}

// PointID is the deterministic Qdrant point ID of a chunk. The file ID is
// length-prefixed so slashes in either ID cannot collide.
func PointID(fileID, chunkID string) string {
	name := strconv.Itoa(len(fileID)) + ":" + fileID + "/" + chunkID
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
