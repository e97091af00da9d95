package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type listStore struct {
	stubStore
	limit  int
	offset int
	rows   []Entry
	err    error
}

func (l *listStore) ListAuditLogs(_ context.Context, limit, offset int) ([]Entry, error) {
	l.limit, l.offset = limit, offset
	return l.rows, l.err
}

func listLogs(t *testing.T, store Store, query string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	Handler{Store: store}.List(rr, httptest.NewRequest(http.MethodGet, "/audit"+query, nil))
	return rr
}

func TestHandlerList(t *testing.T) {
	store := &listStore{rows: []Entry{{Action: "BREAKER_RESET", Method: http.MethodPost}}}
	rr := listLogs(t, store, "?limit=25&offset=10")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 25, store.limit)
	require.Equal(t, 10, store.offset)

	var payload []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload, 1)
	require.Equal(t, "BREAKER_RESET", payload[0]["action"])
}

func TestHandlerListClampsLimit(t *testing.T) {
	store := &listStore{}
	listLogs(t, store, "?limit=9999&offset=-5")
	require.Equal(t, 200, store.limit)
	require.Equal(t, 0, store.offset)
}

func TestHandlerListEmptyIsArray(t *testing.T) {
	rr := listLogs(t, &listStore{}, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, "[]", rr.Body.String())
}

func TestHandlerListStoreFailure(t *testing.T) {
	rr := listLogs(t, &listStore{err: errors.New("pg down")}, "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandlerListNotConfigured(t *testing.T) {
	rr := listLogs(t, nil, "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
