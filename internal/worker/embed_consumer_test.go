package worker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vellum/features/document"
)

func retryIndexer(embedder *MockEmbedder, index *MockVectorIndex, jobs *MockJobRepo) *Indexer {
	return NewIndexer(embedder, index, jobs, IndexerConfig{
		BatchSize:   10,
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		Dimension:   3,
		CallTimeout: time.Second,
	})
}

func embedMessage(t *testing.T, payload IngestEmbedPayload) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return nsq.NewMessage(nsq.MessageID{}, body)
}

func testEmbedPayload() IngestEmbedPayload {
	return IngestEmbedPayload{
		DocumentID: testDocID,
		Filename:   "report.pdf",
		Chunks: []ChunkPayload{
			{ID: "aaaaaaaa-0000-0000-0000-000000000001", Seq: 4, Kind: "prose", Content: "retry me"},
			{ID: "aaaaaaaa-0000-0000-0000-000000000002", Seq: 5, Kind: "prose", Content: "retry me too"},
		},
	}
}

func TestEmbedRetryConsumer_Success(t *testing.T) {
	embedder := new(MockEmbedder)
	index := new(MockVectorIndex)
	docs := new(MockDocumentStore)
	consumer := NewEmbedRetryConsumer(retryIndexer(embedder, index, new(MockJobRepo)), docs)

	payload := testEmbedPayload()

	embedder.On("EmbedBatch", mock.Anything, []string{"retry me", "retry me too"}).
		Return([][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}, nil)

	var stored []StoredChunk
	index.On("UpsertBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).([]StoredChunk) }).
		Return(nil)

	doc := &document.Document{
		ID:             testDocID,
		Status:         document.StatusProcessed,
		Degraded:       true,
		FailedChunkIDs: []string{payload.Chunks[0].ID, payload.Chunks[1].ID},
	}
	docs.On("Get", mock.Anything, testDocID).Return(doc, nil)
	docs.On("UpdateFailedChunks", mock.Anything, testDocID, mock.Anything, false).
		Return(nil)

	err := consumer.HandleMessage(embedMessage(t, payload))
	require.NoError(t, err)

	require.Len(t, stored, 2)
	assert.Equal(t, payload.Chunks[0].ID, stored[0].ID)
	assert.Equal(t, "report.pdf", stored[0].Filename)
	assert.Equal(t, 4, stored[0].Seq)

	// Every failed id was retried: degraded clears.
	docs.AssertCalled(t, "UpdateFailedChunks", mock.Anything, testDocID, mock.Anything, false)
}

func TestEmbedRetryConsumer_PartialSetStaysDegraded(t *testing.T) {
	embedder := new(MockEmbedder)
	index := new(MockVectorIndex)
	docs := new(MockDocumentStore)
	consumer := NewEmbedRetryConsumer(retryIndexer(embedder, index, new(MockJobRepo)), docs)

	payload := testEmbedPayload()
	other := "bbbbbbbb-0000-0000-0000-000000000009"

	embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}, nil)
	index.On("UpsertBatch", mock.Anything, mock.Anything).Return(nil)

	doc := &document.Document{
		ID:             testDocID,
		Status:         document.StatusProcessed,
		Degraded:       true,
		FailedChunkIDs: []string{payload.Chunks[0].ID, payload.Chunks[1].ID, other},
	}
	docs.On("Get", mock.Anything, testDocID).Return(doc, nil)
	docs.On("UpdateFailedChunks", mock.Anything, testDocID, []string{other}, true).Return(nil)

	err := consumer.HandleMessage(embedMessage(t, payload))
	require.NoError(t, err)
	docs.AssertExpectations(t)
}

func TestEmbedRetryConsumer_ExtractionDegradationSticks(t *testing.T) {
	embedder := new(MockEmbedder)
	index := new(MockVectorIndex)
	docs := new(MockDocumentStore)
	consumer := NewEmbedRetryConsumer(retryIndexer(embedder, index, new(MockJobRepo)), docs)

	payload := testEmbedPayload()

	embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}, nil)
	index.On("UpsertBatch", mock.Anything, mock.Anything).Return(nil)

	// Degraded by a partial extraction as well as the failed embeds. Retrying
	// every failed chunk repairs the index but not the missing pages.
	doc := &document.Document{
		ID:             testDocID,
		Status:         document.StatusProcessed,
		Degraded:       true,
		Error:          &document.ProcessingError{Stage: "extracting", Message: "ocr failed on page 3"},
		FailedChunkIDs: []string{payload.Chunks[0].ID, payload.Chunks[1].ID},
	}
	docs.On("Get", mock.Anything, testDocID).Return(doc, nil)
	docs.On("UpdateFailedChunks", mock.Anything, testDocID, mock.Anything, true).Return(nil)

	err := consumer.HandleMessage(embedMessage(t, payload))
	require.NoError(t, err)
	docs.AssertExpectations(t)
}

func TestEmbedRetryConsumer_FailureRequeues(t *testing.T) {
	embedder := new(MockEmbedder)
	index := new(MockVectorIndex)
	docs := new(MockDocumentStore)
	consumer := NewEmbedRetryConsumer(retryIndexer(embedder, index, new(MockJobRepo)), docs)

	embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	err := consumer.HandleMessage(embedMessage(t, testEmbedPayload()))
	assert.Error(t, err, "operator-initiated retry should requeue on failure")
	docs.AssertNotCalled(t, "UpdateFailedChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEmbedRetryConsumer_PoisonPill(t *testing.T) {
	consumer := NewEmbedRetryConsumer(retryIndexer(new(MockEmbedder), new(MockVectorIndex), new(MockJobRepo)), new(MockDocumentStore))

	assert.NoError(t, consumer.HandleMessage(nsq.NewMessage(nsq.MessageID{}, []byte("{bad"))))
	assert.NoError(t, consumer.HandleMessage(embedMessage(t, IngestEmbedPayload{DocumentID: testDocID})))
}
