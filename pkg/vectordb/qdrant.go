package vectordb

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/strata-ai/strata/pkg/config"
)

// QdrantProvider talks to a Qdrant server over gRPC.
type QdrantProvider struct {
	client *qdrant.Client
}

func NewQdrantProvider(cfg *config.VectorStoreConfig) (*QdrantProvider, error) {
	useTLS := false
	if cfg.EnableTLS != nil {
		useTLS = *cfg.EnableTLS
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantProvider{client: client}, nil
}

func (p *QdrantProvider) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, pt := range points {
		payload := make(map[string]*qdrant.Value, len(pt.Metadata))
		for key, value := range pt.Metadata {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
			}
			payload[key] = val
		}
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(pt.ID),
			Vectors: qdrant.NewVectors(pt.Vector...),
			Payload: payload,
		})
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (p *QdrantProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		searchRequest.Filter = buildQdrantFilter(filter)
	}

	searchResult, err := p.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}
	return convertQdrantResults(searchResult.Result), nil
}

func (p *QdrantProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error {
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildQdrantFilter(filter),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points by filter from collection %s: %w", collection, err)
	}
	return nil
}

func (p *QdrantProvider) DeleteCollection(ctx context.Context, collection string) error {
	if err := p.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

func buildQdrantFilter(filter map[string]interface{}) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		val, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: val.GetStringValue(),
						},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func convertQdrantResults(points []*qdrant.ScoredPoint) []SearchResult {
	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		var id string
		if point.Id != nil && point.Id.PointIdOptions != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idType.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", idType.Num)
			}
		}

		metadata := make(map[string]interface{}, len(point.Payload))
		for key, value := range point.Payload {
			switch v := value.Kind.(type) {
			case *qdrant.Value_StringValue:
				metadata[key] = v.StringValue
			case *qdrant.Value_IntegerValue:
				metadata[key] = v.IntegerValue
			case *qdrant.Value_DoubleValue:
				metadata[key] = v.DoubleValue
			case *qdrant.Value_BoolValue:
				metadata[key] = v.BoolValue
			default:
				metadata[key] = value
			}
		}

		results = append(results, SearchResult{
			ID:       id,
			Score:    point.Score,
			Metadata: metadata,
		})
	}
	return results
}
