package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/neuralcache/semcache/pkg/observability/logging"
)

// MilvusConfig holds connection and collection settings for the Milvus adapter.
type MilvusConfig struct {
	Address string `yaml:"address"`
	Timeout int    `yaml:"timeout,omitempty"`

	CollectionName string `yaml:"collection_name,omitempty"`
	Dimension      int    `yaml:"dimension"`

	// HNSW parameters, defaulted when zero
	M              int `yaml:"hnsw_m,omitempty"`
	EfConstruction int `yaml:"hnsw_ef_construction,omitempty"`
	EfSearch       int `yaml:"hnsw_ef_search,omitempty"`
}

// Milvus implements Index on a Milvus collection with a COSINE HNSW index.
// Milvus COSINE scores are already cosine similarity, only clamping applies.
type Milvus struct {
	client     client.Client
	collection string
	dimension  int
	efSearch   int
}

const milvusVectorField = "embedding"

// NewMilvus connects to Milvus and creates + loads the collection if needed.
func NewMilvus(cfg MilvusConfig) (*Milvus, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got: %d", cfg.Dimension)
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = "semcache_vectors"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction == 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	dialCtx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(dialCtx, time.Duration(cfg.Timeout)*time.Second)
		defer cancel()
	}

	logging.Debugf("MilvusIndex: connecting to %s", cfg.Address)
	milvusClient, err := client.NewGrpcClient(dialCtx, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	idx := &Milvus{
		client:     milvusClient,
		collection: cfg.CollectionName,
		dimension:  cfg.Dimension,
		efSearch:   cfg.EfSearch,
	}
	if err := idx.ensureCollection(context.Background(), cfg); err != nil {
		milvusClient.Close()
		return nil, fmt.Errorf("failed to initialize collection: %w", err)
	}

	logging.Debugf("MilvusIndex: ready (collection=%s, dimension=%d)", cfg.CollectionName, cfg.Dimension)
	return idx, nil
}

func (m *Milvus) ensureCollection(ctx context.Context, cfg MilvusConfig) error {
	hasCollection, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !hasCollection {
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "semantic cache vector index",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:     milvusVectorField,
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", cfg.Dimension),
					},
				},
			},
		}
		if err := m.client.CreateCollection(ctx, schema, 1); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		index, err := entity.NewIndexHNSW(entity.COSINE, cfg.M, cfg.EfConstruction)
		if err != nil {
			return fmt.Errorf("failed to build HNSW index: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collection, milvusVectorField, index, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}

		logging.LogEvent("collection_created", map[string]interface{}{
			"backend":    "milvus",
			"collection": m.collection,
			"dimension":  cfg.Dimension,
		})
	}

	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (m *Milvus) Upsert(ctx context.Context, id string, vector []float32) error {
	idColumn := entity.NewColumnVarChar("id", []string{id})
	vectorColumn := entity.NewColumnFloatVector(milvusVectorField, len(vector), [][]float32{vector})

	if _, err := m.client.Upsert(ctx, m.collection, "", idColumn, vectorColumn); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (m *Milvus) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 1
	}

	searchParam, err := entity.NewIndexHNSWSearchParam(m.efSearch)
	if err != nil {
		return nil, fmt.Errorf("failed to create search parameters: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collection,
		[]string{},
		"",
		[]string{"id"},
		[]entity.Vector{entity.FloatVector(vector)},
		milvusVectorField,
		entity.COSINE,
		topK,
		searchParam,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	result := results[0]
	matches := make([]Match, 0, result.ResultCount)
	idColumn, ok := result.IDs.(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("unexpected id column type %T", result.IDs)
	}
	for i := 0; i < result.ResultCount && i < idColumn.Len(); i++ {
		matches = append(matches, Match{
			ID:         idColumn.Data()[i],
			Similarity: clampSimilarity(result.Scores[i]),
		})
	}
	return matches, nil
}

func (m *Milvus) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	expr := fmt.Sprintf("id in [%s]", strings.Join(quoted, ", "))
	if err := m.client.Delete(ctx, m.collection, "", expr); err != nil {
		return fmt.Errorf("failed to remove vectors: %w", err)
	}
	return nil
}

func (m *Milvus) Close() error {
	return m.client.Close()
}
