// Package nnindex wraps Qdrant as the nearest-neighbor adapter used by
// Decision (similar-incident lookup, restricted to a service) and Learner
// (upserts of Human capability embeddings). Both use the same thin client;
// each owns its own collection.
package nnindex

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Config holds the connection settings for one Qdrant collection.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dims       uint64
}

// Point is a single vector to upsert, keyed by the entity's own ID (a
// WorkItem ID for the incident collection, a Human ID for the capability
// collection). IDs are arbitrary strings, not necessarily UUIDs, so they
// ride along in the payload under idPayloadKey and Qdrant's own point ID is
// a deterministic UUID derived from ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Match is a single required ("must") filter condition on a keyword payload
// field, e.g. {Field: "service", Value: "payments"}.
type Match struct {
	Field string
	Value string
}

// Result is a single scored hit from Search.
type Result struct {
	ID    string
	Score float32
}

// idPayloadKey stores each point's caller-supplied ID in its Qdrant payload,
// since that ID is not always itself a valid Qdrant point ID (a UUID or
// unsigned integer).
const idPayloadKey = "_nnindex_id"

// idNamespace seeds the deterministic UUID5 derivation of a Qdrant point ID
// from an arbitrary caller ID string.
var idNamespace = uuid.MustParse("6f9c1a2e-9b0e-4d9b-9d2e-9b7b9c1a2e00")

func pointUUID(id string) uuid.UUID {
	if u, err := uuid.Parse(id); err == nil {
		return u
	}
	return uuid.NewSHA1(idNamespace, []byte(id))
}

// Index is a Qdrant-backed nearest-neighbor collection.
type Index struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseURL extracts host, port, and TLS flag from a Qdrant URL. Accepts
// forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseURL(rawURL string) (host string, port int, useTLS bool, err error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("nnindex: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("nnindex: invalid port in qdrant URL: %q", portStr)
		}
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// New connects to Qdrant via gRPC and returns an Index bound to one collection.
func New(cfg Config, logger *slog.Logger) (*Index, error) {
	host, port, useTLS, err := parseURL(cfg.URL)
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
		return nil, fmt.Errorf("nnindex: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &Index{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection, with keyword indexes on the given
// filterable payload fields, if it doesn't already exist.
func (idx *Index) EnsureCollection(ctx context.Context, filterFields ...string) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("nnindex: check collection exists: %w", err)
	}
	if exists {
		idx.logger.Info("nnindex: collection already exists", "collection", idx.collection)
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)

	err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     idx.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("nnindex: create collection %q: %w", idx.collection, err)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range filterFields {
		if _, err := idx.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: idx.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("nnindex: create index on %q: %w", field, err)
		}
	}

	idx.logger.Info("nnindex: created collection", "collection", idx.collection, "dims", idx.dims, "filter_fields", filterFields)
	return nil
}

// Search queries for the nearest vectors to embedding, with every entry in
// must applied as a required keyword-match filter. Over-fetches limit*3,
// skips hits with no stored ID, and returns at most limit results.
func (idx *Index) Search(ctx context.Context, embedding []float32, must []Match, limit int) ([]Result, error) {
	conditions := make([]*qdrant.Condition, 0, len(must))
	for _, m := range must {
		conditions = append(conditions, qdrant.NewMatch(m.Field, m.Value))
	}

	fetchLimit := uint64(limit) * 3
	scored, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         &qdrant.Filter{Must: conditions},
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("nnindex: qdrant query: %w", err)
	}

	results := make([]Result, 0, len(scored))
	for _, sp := range scored {
		v, ok := sp.Payload[idPayloadKey]
		if !ok {
			continue
		}
		id := v.GetStringValue()
		if id == "" {
			continue
		}
		results = append(results, Result{ID: id, Score: sp.Score})
		if len(results) >= limit {
			break
		}
	}

	return results, nil
}

// Upsert inserts or updates points.
func (idx *Index) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[idPayloadKey] = p.ID

		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointUUID(p.ID).String()),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("nnindex: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByIDs removes specific points by ID.
func (idx *Index) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(pointUUID(id).String())
	}

	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("nnindex: qdrant delete %d points: %w", len(ids), err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Cached for 5 seconds to avoid
// hammering the health endpoint on every request.
func (idx *Index) Healthy(ctx context.Context) error {
	idx.healthMu.Lock()
	defer idx.healthMu.Unlock()

	if time.Since(idx.lastCheck) < 5*time.Second {
		return idx.lastErr
	}

	_, err := idx.client.HealthCheck(ctx)
	idx.lastCheck = time.Now()
	if err != nil {
		idx.lastErr = fmt.Errorf("nnindex: qdrant unhealthy: %w", err)
	} else {
		idx.lastErr = nil
	}
	return idx.lastErr
}

// Close shuts down the Qdrant gRPC connection.
func (idx *Index) Close() error {
	return idx.client.Close()
}
