package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/WessleyAI/interview-insights/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	upserts    []*pb.UpsertPoints
	deletes    []*pb.DeletePoints
	searches   []*pb.SearchPoints
	upsertErr  error
	deleteErr  error
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserts = append(m.upserts, in)
	return &pb.PointsOperationResponse{}, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deletes = append(m.deletes, in)
	return &pb.PointsOperationResponse{}, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searches = append(m.searches, in)
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	lists     int
	created   []*pb.CreateCollection
	createErr error
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	m.lists++
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = append(m.created, in)
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

func embeddedChunks() []domain.TranscriptChunk {
	return []domain.TranscriptChunk{
		{ID: "c0", Content: "The price is high.", StartChar: 0, EndChar: 18, TokenCount: 4, Embedding: domain.Vector{1, 0, 0}, SourceFileID: "f1", SourceLabel: "Interview 1"},
		{ID: "c1", Content: "We use spreadsheets.", StartChar: 19, EndChar: 39, TokenCount: 3, Embedding: domain.Vector{0, 1, 0}, SourceFileID: "f1", SourceLabel: "Interview 1"},
	}
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	s := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: "test"}}},
	}
	s := NewWithClients(&mockPoints{}, cols, "test")
	if err := s.EnsureCollection(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols.created) != 0 {
		t.Fatal("existing collection must not be recreated")
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	s := NewWithClients(&mockPoints{}, cols, "test")
	if err := s.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols.created) != 1 {
		t.Fatalf("expected create, got %d", len(cols.created))
	}
	params := cols.created[0].GetVectorsConfig().GetParams()
	if params.GetSize() != 768 || params.GetDistance() != pb.Distance_Cosine {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestEnsureCollection_Errors(t *testing.T) {
	s := NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("rpc fail")}, "test")
	if err := s.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected list error")
	}
	s = NewWithClients(&mockPoints{}, &mockCollections{listResp: &pb.ListCollectionsResponse{}, createErr: errors.New("create fail")}, "test")
	if err := s.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected create error")
	}
}

func TestStoreChunks(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	s := NewWithClients(pts, cols, "test")

	if err := s.StoreChunks(context.Background(), "f1", embeddedChunks()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols.created) != 1 || cols.created[0].GetVectorsConfig().GetParams().GetSize() != 3 {
		t.Fatalf("collection should be sized to the embeddings: %+v", cols.created)
	}
	if len(pts.deletes) != 1 {
		t.Fatalf("expected previous points of the file to be removed")
	}
	if len(pts.upserts) != 1 || len(pts.upserts[0].GetPoints()) != 2 {
		t.Fatalf("unexpected upserts %+v", pts.upserts)
	}

	p := pts.upserts[0].GetPoints()[1]
	if p.GetId().GetUuid() != PointID("f1", "c1") {
		t.Errorf("point id not deterministic: %s", p.GetId().GetUuid())
	}
	pl := p.GetPayload()
	if pl[keyContent].GetStringValue() != "We use spreadsheets." || pl[keyFileID].GetStringValue() != "f1" {
		t.Errorf("unexpected payload %+v", pl)
	}
	if pl[keyStartChar].GetIntegerValue() != 19 || pl[keyLabel].GetStringValue() != "Interview 1" {
		t.Errorf("unexpected payload %+v", pl)
	}

	// The collection is only checked once per store.
	if err := s.StoreChunks(context.Background(), "f2", embeddedChunks()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.lists != 1 {
		t.Errorf("expected a single collection check, got %d", cols.lists)
	}
}

func TestStoreChunks_Empty(t *testing.T) {
	pts := &mockPoints{}
	s := NewWithClients(pts, &mockCollections{}, "test")
	if err := s.StoreChunks(context.Background(), "f1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pts.upserts) != 0 {
		t.Fatal("nothing to store")
	}
}

func TestStoreChunks_MissingEmbedding(t *testing.T) {
	chunks := embeddedChunks()
	chunks[1].Embedding = nil
	s := NewWithClients(&mockPoints{}, &mockCollections{listResp: &pb.ListCollectionsResponse{}}, "test")
	if err := s.StoreChunks(context.Background(), "f1", chunks); !errors.Is(err, domain.ErrMissingEmbedding) {
		t.Fatalf("expected ErrMissingEmbedding, got %v", err)
	}
}

func TestStoreChunks_UpsertError(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	s := NewWithClients(pts, &mockCollections{listResp: &pb.ListCollectionsResponse{}}, "test")
	if err := s.StoreChunks(context.Background(), "f1", embeddedChunks()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStoreChunks_DeleteError(t *testing.T) {
	pts := &mockPoints{deleteErr: errors.New("fail")}
	s := NewWithClients(pts, &mockCollections{listResp: &pb.ListCollectionsResponse{}}, "test")
	if err := s.StoreChunks(context.Background(), "f1", embeddedChunks()); err == nil {
		t.Fatal("expected error")
	}
	if len(pts.upserts) != 0 {
		t.Fatal("must not upsert after a failed delete")
	}
}

func TestDeleteCollection(t *testing.T) {
	s := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	if err := s.DeleteCollection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s = NewWithClients(&mockPoints{}, &mockCollections{deleteErr: errors.New("fail")}, "test")
	if err := s.DeleteCollection(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID("f1", "c0")}},
					Score: 0.5,
					Payload: map[string]*pb.Value{
						keyContent:    stringValue("The price is high."),
						keyChunkID:    stringValue("c0"),
						keyFileID:     stringValue("f1"),
						keyLabel:      stringValue("Interview 1"),
						keyTokenCount: intValue(4),
					},
				},
				{Score: 0.25},
			},
		},
	}
	s := NewWithClients(pts, &mockCollections{}, "test")
	results, err := s.Search(context.Background(), domain.Vector{1, 0, 0}, 5, "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	r := results[0]
	if r.Chunk.Key() != (domain.ChunkKey{FileID: "f1", ID: "c0"}) || r.Chunk.TokenCount != 4 || r.Similarity != 0.5 || r.Rank != 1 {
		t.Errorf("unexpected result %+v", r)
	}
	if results[1].Rank != 2 {
		t.Errorf("expected dense ranks, got %d", results[1].Rank)
	}
	if pts.searches[0].GetFilter() == nil || pts.searches[0].GetLimit() != 5 {
		t.Errorf("file filter not applied: %+v", pts.searches[0])
	}
}

func TestSearch_Error(t *testing.T) {
	s := NewWithClients(&mockPoints{searchErr: errors.New("fail")}, &mockCollections{}, "test")
	if _, err := s.Search(context.Background(), domain.Vector{1}, 5, ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestPointID(t *testing.T) {
	if PointID("f1", "c0") != PointID("f1", "c0") {
		t.Fatal("point id must be deterministic")
	}
	if PointID("f1", "c0") == PointID("f2", "c0") {
		t.Fatal("equal chunk ids in different files must not collide")
	}
	if PointID("a/b", "c") == PointID("a", "b/c") {
		t.Fatal("slashes in ids must not collide")
	}
}
