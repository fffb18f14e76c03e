package vectorindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neuralcache/semcache/pkg/observability/logging"
)

// RedisConfig holds connection and index settings for the Redis adapter.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	Database int    `yaml:"database,omitempty"`
	Timeout  int    `yaml:"timeout,omitempty"`

	IndexName string `yaml:"index_name,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Dimension int    `yaml:"dimension"`

	// HNSW build parameters, defaulted when zero
	M              int `yaml:"hnsw_m,omitempty"`
	EfConstruction int `yaml:"hnsw_ef_construction,omitempty"`
}

// Redis implements Index on RediSearch vector search. The index stores one
// hash per id with a single FLOAT32 vector field under a COSINE HNSW index.
type Redis struct {
	client    *redis.Client
	indexName string
	prefix    string
	dimension int
}

const redisVectorField = "embedding"

// NewRedis connects, verifies the connection, and creates the vector index
// if it does not already exist.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got: %d", cfg.Dimension)
	}
	if cfg.IndexName == "" {
		cfg.IndexName = "semcache_vectors"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "semcache:vec:"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction == 0 {
		cfg.EfConstruction = 64
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
		Protocol: 2, // RESP2 for RediSearch compatibility
	})

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Second)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection check failed: %w", err)
	}

	idx := &Redis{
		client:    client,
		indexName: cfg.IndexName,
		prefix:    cfg.Prefix,
		dimension: cfg.Dimension,
	}
	if err := idx.ensureIndex(ctx, cfg); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}

	logging.Debugf("RedisIndex: ready (index=%s, dimension=%d)", cfg.IndexName, cfg.Dimension)
	return idx, nil
}

func (r *Redis) ensureIndex(ctx context.Context, cfg RedisConfig) error {
	if _, err := r.client.FTInfo(ctx, r.indexName).Result(); err == nil {
		return nil
	}

	_, err := r.client.FTCreate(ctx,
		r.indexName,
		&redis.FTCreateOptions{
			OnHash: true,
			Prefix: []interface{}{r.prefix},
		},
		&redis.FieldSchema{
			FieldName: redisVectorField,
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				HNSWOptions: &redis.FTHNSWOptions{
					Type:                   "FLOAT32",
					Dim:                    cfg.Dimension,
					DistanceMetric:         "COSINE",
					MaxEdgesPerNode:        cfg.M,
					MaxAllowedEdgesPerNode: cfg.EfConstruction,
				},
			},
		},
	).Result()
	if err != nil {
		return fmt.Errorf("failed to create redis index: %w", err)
	}

	logging.LogEvent("index_created", map[string]interface{}{
		"backend":   "redis",
		"index":     r.indexName,
		"dimension": cfg.Dimension,
	})
	return nil
}

func (r *Redis) Upsert(ctx context.Context, id string, vector []float32) error {
	err := r.client.HSet(ctx, r.prefix+id, map[string]interface{}{
		redisVectorField: floatsToBytes(vector),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	return nil
}

func (r *Redis) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 1
	}

	knnQuery := fmt.Sprintf("*=>[KNN %d @%s $vec AS vector_distance]", topK, redisVectorField)
	result, err := r.client.FTSearchWithArgs(ctx,
		r.indexName,
		knnQuery,
		&redis.FTSearchOptions{
			Return:         []redis.FTSearchReturn{{FieldName: "vector_distance"}},
			SortBy:         []redis.FTSearchSortBy{{FieldName: "vector_distance", Asc: true}},
			DialectVersion: 2,
			Params: map[string]interface{}{
				"vec": floatsToBytes(vector),
			},
		},
	).Result()
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	matches := make([]Match, 0, len(result.Docs))
	for _, doc := range result.Docs {
		distanceVal, ok := doc.Fields["vector_distance"]
		if !ok {
			continue
		}
		var distance float64
		if _, err := fmt.Sscanf(fmt.Sprint(distanceVal), "%f", &distance); err != nil {
			continue
		}
		matches = append(matches, Match{
			ID: strings.TrimPrefix(doc.ID, r.prefix),
			// RediSearch reports cosine distance 1-cos in [0, 2]
			Similarity: clampSimilarity(1.0 - float32(distance)),
		})
	}
	return matches, nil
}

func (r *Redis) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefix + id
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to remove vectors: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// floatsToBytes converts a float32 slice to the little-endian byte layout
// RediSearch expects for FLOAT32 vector fields.
func floatsToBytes(fs []float32) []byte {
	buf := make([]byte, len(fs)*4)
	for i, f := range fs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
