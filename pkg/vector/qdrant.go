package vector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/scribadev/scriba/pkg/settings"
)

// Qdrant talks to a qdrant server over gRPC. The collection is created
// on first write with the embedder's dimensionality.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder

	mu    sync.Mutex
	ready bool
}

func NewQdrant(cfg settings.VectorSettings, embedder Embedder) (*Qdrant, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}

	return &Qdrant{
		client:     client,
		collection: collection,
		embedder:   embedder,
	}, nil
}

// parseQdrantURL maps a configured URL onto the gRPC client's
// host/port/TLS triple. Bare "host" and "host:port" forms work too;
// the port defaults to qdrant's gRPC port.
func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	if raw == "" {
		return "localhost", 6334, false, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("parse qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("qdrant url %q has no host", raw)
	}

	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("qdrant url %q has an invalid port", raw)
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection: %w", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.embedder.Dimensions()),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// Another instance may have raced us to the create.
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("create qdrant collection: %w", err)
		}
	}

	q.ready = true
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, doc *Document) error {
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}

	vec, err := q.embedder.Embed(ctx, embedText(doc))
	if err != nil {
		return fmt.Errorf("embed document %d: %w", doc.ID, err)
	}

	// Processed is stored as a keyword so the filter below can match
	// it the same way as the other payload fields.
	payload, err := qdrantPayload(map[string]any{
		"title":         doc.Title,
		"tags":          joinTags(doc.Tags),
		"correspondent": doc.Correspondent,
		"document_type": doc.DocumentType,
		"processed":     strconv.FormatBool(doc.Processed),
	})
	if err != nil {
		return err
	}

	point := &qdrant.PointStruct{
		Id:      qdrantPointID(doc.ID),
		Vectors: qdrant.NewVectors(vec...),
		Payload: payload,
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("upsert point %d: %w", doc.ID, err)
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, query string, limit int, processedOnly bool) ([]Match, error) {
	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	request := &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if processedOnly {
		request.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "processed",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: "true"},
						},
					},
				},
			}},
		}
	}

	result, err := q.client.GetPointsClient().Search(ctx, request)
	if err != nil {
		// The collection does not exist until the first upsert.
		if isGRPCNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("search qdrant: %w", err)
	}

	matches := make([]Match, 0, len(result.Result))
	for _, point := range result.Result {
		matches = append(matches, Match{
			DocID:         qdrantDocID(point.Id),
			Title:         point.Payload["title"].GetStringValue(),
			Tags:          splitTags(point.Payload["tags"].GetStringValue()),
			Correspondent: point.Payload["correspondent"].GetStringValue(),
			DocumentType:  point.Payload["document_type"].GetStringValue(),
			Score:         point.Score,
		})
	}
	return matches, nil
}

func (q *Qdrant) Delete(ctx context.Context, docID int) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrantPointID(docID)},
				},
			},
		},
	})
	if err != nil {
		if isGRPCNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete point %d: %w", docID, err)
	}
	return nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func qdrantPayload(fields map[string]any) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(fields))
	for key, value := range fields {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("convert payload field %s: %w", key, err)
		}
		payload[key] = val
	}
	return payload, nil
}

// qdrantPointID maps DMS document ids onto qdrant's numeric point ids,
// which makes deletes and reindexing addressable without a lookup.
func qdrantPointID(docID int) *qdrant.PointId {
	return &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Num{Num: uint64(docID)},
	}
}

func qdrantDocID(id *qdrant.PointId) int {
	if id == nil {
		return 0
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Num:
		return int(v.Num)
	case *qdrant.PointId_Uuid:
		return parseDocID(v.Uuid)
	default:
		return 0
	}
}

func isGRPCNotFound(err error) bool {
	s, ok := status.FromError(err)
	return ok && s.Code() == codes.NotFound
}
