package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"vellum/internal/retrieval"
	"vellum/internal/vector"
	"vellum/internal/worker"
)

// listPageSize bounds the GraphQL page when walking a document's chunk ids.
const listPageSize = 500

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewSchemaAdapter(s.client))
}

// UpsertBatch writes one embed batch. Objects are keyed by the chunk's
// deterministic id, so re-processing unchanged content overwrites in place
// instead of accumulating duplicates.
func (s *Store) UpsertBatch(ctx context.Context, chunks []worker.StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class: vector.ClassName,
			ID:    strfmt.UUID(c.ID),
			Properties: map[string]interface{}{
				"content":    c.Content,
				"documentId": c.DocumentID,
				"seq":        c.Seq,
				"kind":       c.Kind,
				"page":       c.Page,
				"spanStart":  c.Start,
				"spanEnd":    c.End,
				"tableId":    c.TableID,
				"filename":   c.Filename,
			},
			Vector: c.Vector,
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert error on %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"id"}).
			WithOperator(filters.ContainsAny).
			WithValueText(ids...)).
		Do(ctx)
	return err
}

func (s *Store) DeleteByDocument(ctx context.Context, docID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueString(docID)).
		Do(ctx)
	return err
}

// ListIDsByDocument walks all chunk ids currently indexed for a document,
// paging so large documents do not hit the GraphQL result cap.
func (s *Store) ListIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	where := filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueString(docID)

	fields := []graphql.Field{
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	var ids []string
	for offset := 0; ; offset += listPageSize {
		res, err := s.client.GraphQL().Get().
			WithClassName(vector.ClassName).
			WithWhere(where).
			WithLimit(listPageSize).
			WithOffset(offset).
			WithFields(fields...).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		if len(res.Errors) > 0 {
			return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
		}

		page := decodeObjects(res)
		for _, props := range page {
			if additional, ok := props["_additional"].(map[string]interface{}); ok {
				if id, ok := additional["id"].(string); ok {
					ids = append(ids, id)
				}
			}
		}
		if len(page) < listPageSize {
			return ids, nil
		}
	}
}

// Query runs a nearVector search restricted to the given document ids and
// returns scored hits. Certainty is already normalized to 0..1.
func (s *Store) Query(ctx context.Context, queryVector []float32, docIDs []string, topK int) ([]retrieval.Hit, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(queryVector)

	where := filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.ContainsAny).
		WithValueText(docIDs...)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "documentId"},
		{Name: "seq"},
		{Name: "kind"},
		{Name: "page"},
		{Name: "spanStart"},
		{Name: "spanEnd"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var hits []retrieval.Hit
	for _, props := range decodeObjects(res) {
		hit := retrieval.Hit{}
		if content, ok := props["content"].(string); ok {
			hit.Content = content
		}
		if docID, ok := props["documentId"].(string); ok {
			hit.DocumentID = docID
		}
		if seq, ok := props["seq"].(float64); ok {
			hit.Seq = int(seq)
		}
		if kind, ok := props["kind"].(string); ok {
			hit.Kind = kind
		}
		if page, ok := props["page"].(float64); ok {
			hit.Page = int(page)
		}
		if start, ok := props["spanStart"].(float64); ok {
			hit.Start = int(start)
		}
		if end, ok := props["spanEnd"].(float64); ok {
			hit.End = int(end)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				hit.ChunkID = id
			}
			// Certainty arrives as a number, but some server versions encode
			// additional fields as strings.
			switch c := additional["certainty"].(type) {
			case float64:
				hit.Score = float32(c)
			case string:
				if f, err := strconv.ParseFloat(c, 32); err == nil {
					hit.Score = float32(f)
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if classes, ok := data[vector.ClassName].([]interface{}); ok && len(classes) > 0 {
			if entry, ok := classes[0].(map[string]interface{}); ok {
				if meta, ok := entry["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

// decodeObjects unwraps the Get response envelope into the per-object
// property maps.
func decodeObjects(res *models.GraphQLResponse) []map[string]interface{} {
	var out []map[string]interface{}
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if objects, ok := data[vector.ClassName].([]interface{}); ok {
			for _, o := range objects {
				if props, ok := o.(map[string]interface{}); ok {
					out = append(out, props)
				}
			}
		}
	}
	return out
}
