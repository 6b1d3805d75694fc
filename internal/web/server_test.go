package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/events"
)

type fakeCycles struct {
	records []domain.CycleRecord
	err     error
	asked   int
}

func (f *fakeCycles) Latest(n int) ([]domain.CycleRecord, error) {
	f.asked = n
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.records) {
		return f.records[len(f.records)-n:], nil
	}
	return f.records, nil
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func get(t *testing.T, h http.Handler, path string) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestServer_Apr(t *testing.T) {
	s := NewServer(zap.NewNop(), ":0", nil, nil, nil)
	h := s.Handler()

	t.Run("all pools", func(t *testing.T) {
		code, body := get(t, h, "/api/apr")
		require.Equal(t, http.StatusOK, code)
		assert.True(t, body.Success)
		assert.Equal(t, "APR data retrieved successfully", body.Message)

		var data map[string]domain.AprEntry
		require.NoError(t, json.Unmarshal(body.Data, &data))
		require.Contains(t, data, "AAVE")
		require.Contains(t, data, "BALANCER")
		assert.Equal(t, 4.5, data["AAVE"].DepositApr)
		assert.Equal(t, 4.9, data["BALANCER"].BorrowApr)
		assert.False(t, data["AAVE"].Timestamp.IsZero())
	})

	t.Run("pool is case insensitive", func(t *testing.T) {
		code, body := get(t, h, "/api/apr/aave")
		require.Equal(t, http.StatusOK, code)
		assert.True(t, body.Success)
		assert.Equal(t, "APR data for aave retrieved successfully", body.Message)

		var entry domain.AprEntry
		require.NoError(t, json.Unmarshal(body.Data, &entry))
		assert.Equal(t, 5.2, entry.BorrowApr)
	})

	t.Run("unknown pool", func(t *testing.T) {
		code, body := get(t, h, "/api/apr/compound")
		require.Equal(t, http.StatusNotFound, code)
		assert.False(t, body.Success)
		assert.Equal(t, "Pool not found", body.Error)
		assert.Equal(t, "No APR data available for pool: compound", body.Message)
	})
}

func TestServer_ConfiguredAprData(t *testing.T) {
	s := NewServer(zap.NewNop(), ":0", map[string]domain.AprEntry{"curve": {DepositApr: 2.1, BorrowApr: 3}}, nil, nil)

	code, _ := get(t, s.Handler(), "/api/apr/AAVE")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := get(t, s.Handler(), "/api/apr/Curve")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, body.Success)
}

func TestServer_Health(t *testing.T) {
	s := NewServer(zap.NewNop(), ":0", nil, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Cycles(t *testing.T) {
	store := &fakeCycles{records: []domain.CycleRecord{
		{Index: 1, Result: domain.CycleResult{ID: "c1"}},
		{Index: 2, Result: domain.CycleResult{ID: "c2"}},
		{Index: 3, Result: domain.CycleResult{ID: "c3"}},
	}}
	s := NewServer(zap.NewNop(), ":0", nil, store, nil)

	code, body := get(t, s.Handler(), "/api/cycles?limit=2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, store.asked)

	var results []domain.CycleResult
	require.NoError(t, json.Unmarshal(body.Data, &results))
	require.Len(t, results, 2)
	assert.Equal(t, "c2", results[0].ID)
	assert.Equal(t, "c3", results[1].ID)

	code, _ = get(t, s.Handler(), "/api/cycles")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, defaultCycleLimit, store.asked)

	code, body = get(t, s.Handler(), "/api/cycles?limit=zero")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid limit", body.Error)

	store.err = errors.New("wal closed")
	code, body = get(t, s.Handler(), "/api/cycles")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, body.Success)
}

func TestServer_CyclesWithoutStore(t *testing.T) {
	s := NewServer(zap.NewNop(), ":0", nil, nil, nil)
	code, body := get(t, s.Handler(), "/api/cycles")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, body.Success)
}

func TestServer_StreamCycles(t *testing.T) {
	broadcaster := events.NewCycleBroadcaster(4)
	s := NewServer(zap.NewNop(), ":0", nil, nil, broadcaster)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/cycles/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return broadcaster.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	broadcaster.Publish(domain.CycleResult{ID: "cycle-1", Narrative: "kept allocation"})

	reader := bufio.NewReader(resp.Body)
	event, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: cycle\n", event)

	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(data, "data: "))

	var result domain.CycleResult
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &result))
	assert.Equal(t, "cycle-1", result.ID)
	assert.Equal(t, "kept allocation", result.Narrative)

	cancel()
	require.Eventually(t, func() bool { return broadcaster.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	s := NewServer(zap.NewNop(), "127.0.0.1:0", nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
