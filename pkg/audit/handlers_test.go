package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlers(t *testing.T) (*mux.Router, *MemoryLog) {
	t.Helper()

	log := NewMemoryLog()
	ctx := context.Background()
	base := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(ctx, entryAt(base, KindAdd, "Adicionou Alunos / Criar")))
	require.NoError(t, log.Append(ctx, entryAt(base.Add(24*time.Hour), KindRemove, "Removeu Escolas / Excluir")))
	require.NoError(t, log.Append(ctx, entryAt(base.Add(48*time.Hour), KindReset, "Redefiniu permissões")))

	router := mux.NewRouter()
	NewHandlers(log).RegisterRoutes(router)
	return router, log
}

func TestHandlers_ListEntries(t *testing.T) {
	router, _ := setupHandlers(t)

	t.Run("all", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/entries", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Entries []*Entry `json:"entries"`
			Count   int      `json:"count"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 3, resp.Count)
		assert.Equal(t, KindReset, resp.Entries[0].Kind)
	})

	t.Run("filtered by kind and date", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/entries?kind=add&kind=remove&to=2024-04-11", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("text search", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/entries?q=escolas", nil))

		var resp struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("invalid kind", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/entries?kind=grant", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid date", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/entries?from=yesterday", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandlers_Export(t *testing.T) {
	router, _ := setupHandlers(t)

	t.Run("csv by default", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/export", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
		assert.Contains(t, w.Header().Get("Content-Disposition"), "auditoria-permissoes.csv")
		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		assert.Equal(t, CSVHeader, lines[0])
		assert.Len(t, lines, 4)
	})

	t.Run("ndjson", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/export?format=ndjson&kind=reset", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
		assert.Len(t, strings.Split(strings.TrimSpace(w.Body.String()), "\n"), 1)
	})

	t.Run("unsupported format", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/export?format=xml", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandlers_Stats(t *testing.T) {
	router, _ := setupHandlers(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var stats Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.ByKind[KindAdd])
}
