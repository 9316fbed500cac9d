package settings_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"vellum/internal/settings"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockRepo) Update(ctx context.Context, s *settings.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func TestHandler_GetSettings(t *testing.T) {
	repo := new(MockRepo)
	handler := settings.NewHandler(settings.NewService(repo))

	repo.On("Get", mock.Anything).
		Return(&settings.Settings{GeminiAPIKey: "key", SearchTopK: 10, MinScore: 0.5, ContextBudget: 8000}, nil)

	w := httptest.NewRecorder()
	handler.GetSettings(w, httptest.NewRequest("GET", "/settings", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"search_top_k":10`)
}

func TestHandler_UpdateSettings(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo := new(MockRepo)
		handler := settings.NewHandler(settings.NewService(repo))

		var updated *settings.Settings
		repo.On("Update", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { updated = args.Get(1).(*settings.Settings) }).
			Return(nil)

		body := `{"gemini_api_key":"new-key","search_top_k":20,"min_score":0.7,"context_budget":4000}`
		w := httptest.NewRecorder()
		handler.UpdateSettings(w, httptest.NewRequest("PUT", "/settings", strings.NewReader(body)))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "new-key", updated.GeminiAPIKey)
		assert.Equal(t, 20, updated.SearchTopK)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		repo := new(MockRepo)
		handler := settings.NewHandler(settings.NewService(repo))

		w := httptest.NewRecorder()
		handler.UpdateSettings(w, httptest.NewRequest("PUT", "/settings", strings.NewReader("{bad")))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}
