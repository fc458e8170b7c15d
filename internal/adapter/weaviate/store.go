// Package weaviate backs vector.Store with a Weaviate instance. Vectors are
// provided by our own embedder, so the class is created with vectorizer
// "none" and every write carries the vector explicitly.
package weaviate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"bidwise/backend/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// EnsureCollection creates the chunk class if it does not exist yet. The
// embedding dimension is recorded in the class description; a later call
// with a different dimension logs a warning and carries on, since old
// points may simply predate an embedder switch.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(vector.CollectionName).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", vector.CollectionName, err)
	}

	if !exists {
		class := &models.Class{
			Class:       vector.CollectionName,
			Description: fmt.Sprintf("dimension=%d", dimension),
			Vectorizer:  "none",
			Properties: []*models.Property{
				{Name: "content", DataType: []string{"text"}},
				{Name: "documentId", DataType: []string{"string"}},
				{Name: "title", DataType: []string{"text"}},
				{Name: "chunkIndex", DataType: []string{"int"}},
			},
		}
		if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create class %s: %w", vector.CollectionName, err)
		}
		return nil
	}

	class, err := s.client.Schema().ClassGetter().
		WithClassName(vector.CollectionName).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("get class %s: %w", vector.CollectionName, err)
	}

	var recorded int
	if _, err := fmt.Sscanf(class.Description, "dimension=%d", &recorded); err == nil && recorded != dimension {
		slog.WarnContext(ctx, "collection dimension differs from embedder output",
			"collection", vector.CollectionName,
			"recorded", recorded,
			"requested", dimension)
	}
	return nil
}

// Upsert writes the points in one batch. Point IDs are deterministic, so
// Weaviate overwrites existing objects and re-indexing never duplicates.
// Per-object failures are collected into a *vector.UpsertError; successful
// objects of the same batch stay written.
func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(points))
	for _, p := range points {
		objects = append(objects, &models.Object{
			Class: vector.CollectionName,
			ID:    strfmt.UUID(p.ID),
			Properties: map[string]interface{}{
				"content":    p.Content,
				"documentId": p.DocumentID,
				"title":      p.Title,
				"chunkIndex": p.ChunkIndex,
			},
			Vector: p.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}

	upsertErr := &vector.UpsertError{}
	for _, obj := range resp {
		if obj.Result == nil || obj.Result.Errors == nil {
			continue
		}
		for _, item := range obj.Result.Errors.Error {
			if item == nil {
				continue
			}
			upsertErr.FailedIDs = append(upsertErr.FailedIDs, string(obj.ID))
			upsertErr.Reasons = append(upsertErr.Reasons, item.Message)
		}
	}
	if len(upsertErr.FailedIDs) > 0 {
		return upsertErr
	}
	return nil
}

// Search runs a pure nearVector query and maps certainty to similarity.
func (s *Store) Search(ctx context.Context, vec []float32, limit int) ([]vector.Hit, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "documentId"},
		{Name: "title"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.CollectionName).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("vector search: graphql error: %v", res.Errors)
	}

	var hits []vector.Hit
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return hits, nil
	}
	raw, ok := data[vector.CollectionName].([]interface{})
	if !ok {
		return hits, nil
	}

	for _, r := range raw {
		props, ok := r.(map[string]interface{})
		if !ok {
			continue
		}

		var hit vector.Hit
		if v, ok := props["content"].(string); ok {
			hit.Content = v
		}
		if v, ok := props["documentId"].(string); ok {
			hit.DocumentID = v
		}
		if v, ok := props["title"].(string); ok {
			hit.Title = v
		}
		if v, ok := props["chunkIndex"].(float64); ok {
			hit.ChunkIndex = int(v)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if v, ok := additional["id"].(string); ok {
				hit.ID = v
			}
			if v, ok := additional["certainty"].(float64); ok {
				hit.Similarity = float32(v)
			}
		}

		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.CollectionName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueString(documentID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete chunks for document %s: %w", documentID, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.CollectionName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("count chunks: graphql error: %v", res.Errors)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[vector.CollectionName].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := row["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}
