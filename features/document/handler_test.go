package document_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vellum/features/document"
)

func newUploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newDocumentHandler(t *testing.T, repo *MockRepository, pub *MockPublisher) *document.Handler {
	t.Helper()
	svc := document.NewService(repo, pub, new(MockChunkIndex))
	return document.NewHandler(svc, document.HandlerConfig{
		UploadDir:     t.TempDir(),
		MaxUploadSize: 1 << 20,
	})
}

func TestHandler_Upload(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		handler := newDocumentHandler(t, repo, pub)

		repo.On("GetByHash", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)
		repo.On("Save", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				args.Get(1).(*document.Document).ID = "doc-1"
			}).
			Return(nil)
		pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

		w := httptest.NewRecorder()
		handler.Upload(w, newUploadRequest(t, "notes.txt", "hello world"))

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp struct {
			Data document.Document `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "doc-1", resp.Data.ID)
		assert.Equal(t, "notes.txt", resp.Data.Filename)
		assert.Equal(t, document.StatusPending, resp.Data.Status)
	})

	t.Run("Duplicate Returns 200 And Discards Copy", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		handler := newDocumentHandler(t, repo, pub)

		repo.On("GetByHash", mock.Anything, mock.Anything).
			Return(&document.Document{ID: "doc-1", Status: document.StatusProcessed}, nil)

		w := httptest.NewRecorder()
		handler.Upload(w, newUploadRequest(t, "dup.txt", "same bytes"))

		assert.Equal(t, http.StatusOK, w.Code)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("Unsupported Extension", func(t *testing.T) {
		handler := newDocumentHandler(t, new(MockRepository), new(MockPublisher))

		w := httptest.NewRecorder()
		handler.Upload(w, newUploadRequest(t, "archive.zip", "PK..."))

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		errObj := resp["error"].(map[string]interface{})
		assert.Equal(t, "BAD_REQUEST", errObj["code"])
	})

	t.Run("Missing File Field", func(t *testing.T) {
		handler := newDocumentHandler(t, new(MockRepository), new(MockPublisher))

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest("POST", "/documents", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		w := httptest.NewRecorder()
		handler.Upload(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Save Failure Cleans Up File", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		dir := t.TempDir()
		svc := document.NewService(repo, pub, new(MockChunkIndex))
		handler := document.NewHandler(svc, document.HandlerConfig{UploadDir: dir, MaxUploadSize: 1 << 20})

		repo.On("GetByHash", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)
		repo.On("Save", mock.Anything, mock.Anything).Return(assert.AnError)

		w := httptest.NewRecorder()
		handler.Upload(w, newUploadRequest(t, "notes.txt", "hello"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "failed upload should leave no file behind")
	})
}

func TestHandler_Get(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo := new(MockRepository)
		handler := newDocumentHandler(t, repo, new(MockPublisher))

		repo.On("Get", mock.Anything, "doc-1").
			Return(&document.Document{ID: "doc-1", Status: document.StatusProcessed, Progress: 1.0}, nil)

		req := httptest.NewRequest("GET", "/documents/doc-1", nil)
		req.SetPathValue("id", "doc-1")
		w := httptest.NewRecorder()
		handler.Get(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Not Found", func(t *testing.T) {
		repo := new(MockRepository)
		handler := newDocumentHandler(t, repo, new(MockPublisher))

		repo.On("Get", mock.Anything, "missing").Return(nil, sql.ErrNoRows)

		req := httptest.NewRequest("GET", "/documents/missing", nil)
		req.SetPathValue("id", "missing")
		w := httptest.NewRecorder()
		handler.Get(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_List(t *testing.T) {
	t.Run("Empty Is Array Not Null", func(t *testing.T) {
		repo := new(MockRepository)
		handler := newDocumentHandler(t, repo, new(MockPublisher))

		repo.On("List", mock.Anything).Return(nil, nil)

		w := httptest.NewRecorder()
		handler.List(w, httptest.NewRequest("GET", "/documents", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"data":[]`)
		assert.Contains(t, w.Body.String(), `"count":0`)
	})
}

func TestHandler_Reprocess(t *testing.T) {
	t.Run("Accepted", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		handler := newDocumentHandler(t, repo, pub)

		repo.On("Get", mock.Anything, "doc-1").
			Return(&document.Document{ID: "doc-1", Status: document.StatusFailed}, nil)
		repo.On("HasActiveClaim", mock.Anything, "doc-1").Return(false, nil)
		repo.On("ResetForReprocess", mock.Anything, "doc-1").Return(nil)
		pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

		req := httptest.NewRequest("POST", "/documents/doc-1/reprocess", nil)
		req.SetPathValue("id", "doc-1")
		w := httptest.NewRecorder()
		handler.Reprocess(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("Conflict While Processing", func(t *testing.T) {
		repo := new(MockRepository)
		handler := newDocumentHandler(t, repo, new(MockPublisher))

		repo.On("Get", mock.Anything, "doc-1").
			Return(&document.Document{ID: "doc-1"}, nil)
		repo.On("HasActiveClaim", mock.Anything, "doc-1").Return(true, nil)

		req := httptest.NewRequest("POST", "/documents/doc-1/reprocess", nil)
		req.SetPathValue("id", "doc-1")
		w := httptest.NewRecorder()
		handler.Reprocess(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHandler_Delete(t *testing.T) {
	repo := new(MockRepository)
	index := new(MockChunkIndex)
	svc := document.NewService(repo, new(MockPublisher), index)
	handler := document.NewHandler(svc, document.HandlerConfig{UploadDir: t.TempDir(), MaxUploadSize: 1 << 20})

	repo.On("Get", mock.Anything, "doc-1").
		Return(&document.Document{ID: "doc-1"}, nil)
	index.On("DeleteByDocument", mock.Anything, "doc-1").Return(nil)
	repo.On("SoftDelete", mock.Anything, "doc-1").Return(nil)

	req := httptest.NewRequest("DELETE", "/documents/doc-1", nil)
	req.SetPathValue("id", "doc-1")
	w := httptest.NewRecorder()
	handler.Delete(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
