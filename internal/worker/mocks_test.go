package worker

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"vellum/features/document"
	"vellum/features/job"
)

// Mocks

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

type MockVectorIndex struct{ mock.Mock }

func (m *MockVectorIndex) UpsertBatch(ctx context.Context, chunks []StoredChunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockVectorIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockVectorIndex) ListIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockDocumentStore struct{ mock.Mock }

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockDocumentStore) UpdateStatus(ctx context.Context, id string, status document.Status, progress float64) error {
	args := m.Called(ctx, id, status, progress)
	return args.Error(0)
}

func (m *MockDocumentStore) MarkFailed(ctx context.Context, id string, perr *document.ProcessingError) error {
	args := m.Called(ctx, id, perr)
	return args.Error(0)
}

func (m *MockDocumentStore) MarkProcessed(ctx context.Context, doc *document.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentStore) UpdateFailedChunks(ctx context.Context, id string, failedIDs []string, degraded bool) error {
	args := m.Called(ctx, id, failedIDs, degraded)
	return args.Error(0)
}

func (m *MockDocumentStore) AcquireClaim(ctx context.Context, id, owner string, lease time.Duration) error {
	args := m.Called(ctx, id, owner, lease)
	return args.Error(0)
}

func (m *MockDocumentStore) ReleaseClaim(ctx context.Context, id, owner string) error {
	args := m.Called(ctx, id, owner)
	return args.Error(0)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockJobRepo) List(ctx context.Context) ([]job.Job, error)          { return nil, nil }
func (m *MockJobRepo) Get(ctx context.Context, id string) (*job.Job, error) { return nil, nil }
func (m *MockJobRepo) Delete(ctx context.Context, id string) error          { return nil }
func (m *MockJobRepo) Count(ctx context.Context) (int, error)               { return 0, nil }
