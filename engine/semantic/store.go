// Package semantic is the remote variant of the prompt index, backed by a
// Qdrant collection. Point ids are index rows; the item id travels in the
// payload so no separate mapping file is needed.
package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/secrag/engine/domain"
)

// Payload keys.
const (
	KeyItemID   = "item_id"
	KeyPrompt   = "prompt"
	KeyLanguage = "language"
	KeyBuildID  = "build_id"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	// build, when set, is the index build every hit must carry.
	build string
}

// Record is one row to index.
type Record struct {
	Row       int
	ItemID    int64
	Embedding []float32
	Prompt    string
	Language  domain.Language
	BuildID   string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a store over pre-made clients; Close is a no-op.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// ExpectBuild makes searches fail with an IndexMappingMismatchError on any
// point written by a different index build.
func (v *VectorStore) ExpectBuild(id string) {
	v.build = id
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

func (v *VectorStore) exists(ctx context.Context) (bool, error) {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	ok, err := v.exists(ctx)
	if err != nil || ok {
		return err
	}
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Recreate drops the collection if present and creates it empty.
func (v *VectorStore) Recreate(ctx context.Context, dims int) error {
	ok, err := v.exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		if _, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection}); err != nil {
			return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
		}
	}
	return v.EnsureCollection(ctx, dims)
}

// Upsert stores records, keyed by row.
func (v *VectorStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]*pb.Value{
			KeyItemID: {Kind: &pb.Value_IntegerValue{IntegerValue: r.ItemID}},
			KeyPrompt: {Kind: &pb.Value_StringValue{StringValue: r.Prompt}},
		}
		if r.Language != "" {
			payload[KeyLanguage] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(r.Language)}}
		}
		if r.BuildID != "" {
			payload[KeyBuildID] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.BuildID}}
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Num{Num: uint64(r.Row)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (v *VectorStore) Count(ctx context.Context) (int64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{CollectionName: v.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

// Validate fails with an IndexMappingMismatchError when the collection does
// not hold exactly want points.
func (v *VectorStore) Validate(ctx context.Context, want int) error {
	n, err := v.Count(ctx)
	if err != nil {
		return err
	}
	if n != int64(want) {
		return &domain.IndexMappingMismatchError{IndexRows: int(n), MappingRows: want}
	}
	return nil
}

// Nearest performs k-NN search and returns neighbors ordered closest first.
func (v *VectorStore) Nearest(ctx context.Context, query []float32, k int) ([]domain.Neighbor, error) {
	return v.NearestFiltered(ctx, query, k, nil)
}

// NearestFiltered restricts the search to points whose payload matches every
// filter keyword.
func (v *VectorStore) NearestFiltered(ctx context.Context, query []float32, k int, filters map[string]string) ([]domain.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for key, val := range filters {
			must = append(must, fieldMatch(key, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	out := make([]domain.Neighbor, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		payload := r.GetPayload()
		idv, ok := payload[KeyItemID].GetKind().(*pb.Value_IntegerValue)
		if !ok {
			return nil, fmt.Errorf("%w: point %d has no integer %s", domain.ErrIndexMapping, r.GetId().GetNum(), KeyItemID)
		}
		if v.build != "" {
			if got := payload[KeyBuildID].GetStringValue(); got != v.build {
				return nil, &domain.IndexMappingMismatchError{IndexBuild: v.build, MappingBuild: got}
			}
		}
		// Qdrant reports plain euclidean distance; the flat index uses squared.
		d := r.GetScore()
		out = append(out, domain.Neighbor{
			Row:      int(r.GetId().GetNum()),
			ItemID:   idv.IntegerValue,
			Distance: d * d,
		})
	}
	return out, nil
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
