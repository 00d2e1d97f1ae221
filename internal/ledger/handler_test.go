package ledger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/clearbooks/clearbooks/internal/platform/httpx"
	"github.com/clearbooks/clearbooks/internal/shared"
)

func newTestRouter(store *memoryLedger) http.Handler {
	handler := NewHandler(slog.Default(), newTestService(store))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithOrg(req.Context(), testOrg)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/ledger", handler.MountRoutes)
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPostJournalEntryEndpoint(t *testing.T) {
	store := newMemoryLedger()
	router := newTestRouter(store)

	rec := postJSON(t, router, "/ledger/journal-entries", map[string]any{
		"date":        "2024-01-15",
		"description": "Office rent",
		"lines": []map[string]any{
			{"account_id": 1, "debit_amount": 500.00, "credit_amount": 0},
			{"account_id": 2, "debit_amount": 0, "credit_amount": 500.00},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var entry JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.NotZero(t, entry.ID)
	require.Equal(t, 500.00, entry.Total)
	require.Len(t, entry.Lines, 2)

	require.Equal(t, 500.00, store.balance(testOrg, 1))
	require.Equal(t, -500.00, store.balance(testOrg, 2))
}

func TestPostJournalEntryEndpointUnbalanced(t *testing.T) {
	store := newMemoryLedger()
	router := newTestRouter(store)

	rec := postJSON(t, router, "/ledger/journal-entries", map[string]any{
		"date":        "2024-01-15",
		"description": "Office rent",
		"lines": []map[string]any{
			{"account_id": 1, "debit_amount": 500.00, "credit_amount": 0},
			{"account_id": 2, "debit_amount": 0, "credit_amount": 499.99},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Debits must equal credits", problem.Detail)

	require.Equal(t, 0.0, store.balance(testOrg, 1))
	require.Equal(t, 0.0, store.balance(testOrg, 2))
}

func TestPostJournalEntryEndpointBadDate(t *testing.T) {
	router := newTestRouter(newMemoryLedger())

	rec := postJSON(t, router, "/ledger/journal-entries", map[string]any{
		"date":        "15-01-2024",
		"description": "Office rent",
		"lines": []map[string]any{
			{"account_id": 1, "debit_amount": 1.0},
			{"account_id": 2, "credit_amount": 1.0},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostJournalEntryEndpointFieldErrors(t *testing.T) {
	router := newTestRouter(newMemoryLedger())

	rec := postJSON(t, router, "/ledger/journal-entries", map[string]any{
		"description": "no date, no lines",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.NotEmpty(t, problem.Fields)
}

func TestReverseJournalEntryEndpoint(t *testing.T) {
	store := newMemoryLedger()
	router := newTestRouter(store)

	rec := postJSON(t, router, "/ledger/journal-entries", map[string]any{
		"date":        "2024-01-15",
		"description": "Office rent",
		"lines": []map[string]any{
			{"account_id": 1, "debit_amount": 500.00},
			{"account_id": 2, "credit_amount": 500.00},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))

	req := httptest.NewRequest(http.MethodPost, "/ledger/journal-entries/1/reverse", nil)
	reverseRec := httptest.NewRecorder()
	router.ServeHTTP(reverseRec, req)
	require.Equal(t, http.StatusCreated, reverseRec.Code)

	require.Equal(t, 0.0, store.balance(testOrg, 1))
	require.Equal(t, 0.0, store.balance(testOrg, 2))
}
