package vectordb

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/strata-ai/strata/pkg/config"
)

// PineconeProvider maps collections onto Pinecone namespaces inside a
// single index. Index provisioning happens outside the service, so
// EnsureCollection only verifies the index is reachable.
type PineconeProvider struct {
	client    *pinecone.Client
	indexHost string
	indexName string
}

func NewPineconeProvider(cfg *config.VectorStoreConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	indexName := cfg.Host
	if indexName == "" {
		indexName = "strata-index"
	}

	return &PineconeProvider{
		client:    client,
		indexHost: cfg.IndexHost,
		indexName: indexName,
	}, nil
}

// getIndexConnection opens a connection scoped to the namespace that
// backs the given collection.
func (p *PineconeProvider) getIndexConnection(ctx context.Context, namespace string) (*pinecone.IndexConnection, error) {
	host := p.indexHost
	if host == "" {
		index, err := p.client.DescribeIndex(ctx, p.indexName)
		if err != nil {
			return nil, fmt.Errorf("failed to describe index %s: %w", p.indexName, err)
		}
		host = index.Host
	}

	indexConn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return indexConn, nil
}

func (p *PineconeProvider) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	// Namespaces are created implicitly on first upsert.
	indexConn, err := p.getIndexConnection(ctx, collection)
	if err != nil {
		return err
	}
	return indexConn.Close()
}

func (p *PineconeProvider) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	indexConn, err := p.getIndexConnection(ctx, collection)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	vectors := make([]*pinecone.Vector, 0, len(points))
	for _, pt := range points {
		var metadata *pinecone.Metadata
		if len(pt.Metadata) > 0 {
			metadata, err = structpb.NewStruct(pt.Metadata)
			if err != nil {
				return fmt.Errorf("failed to convert metadata: %w", err)
			}
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       pt.ID,
			Values:   pt.Vector,
			Metadata: metadata,
		})
	}

	if _, err := indexConn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (p *PineconeProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	indexConn, err := p.getIndexConnection(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	queryResponse, err := indexConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	results := make([]SearchResult, 0, len(queryResponse.Matches))
	for _, match := range queryResponse.Matches {
		if match.Vector == nil {
			continue
		}
		metadata := make(map[string]interface{})
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}
		results = append(results, SearchResult{
			ID:       match.Vector.Id,
			Score:    match.Score,
			Metadata: metadata,
		})
	}
	return results, nil
}

func (p *PineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error {
	indexConn, err := p.getIndexConnection(ctx, collection)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	if err := indexConn.DeleteVectorsByFilter(ctx, metadataFilter); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

func (p *PineconeProvider) DeleteCollection(ctx context.Context, collection string) error {
	indexConn, err := p.getIndexConnection(ctx, collection)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	if err := indexConn.DeleteAllVectorsInNamespace(ctx); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", collection, err)
	}
	return nil
}

func (p *PineconeProvider) Close() error { return nil }
