package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotcli/internal/extract"
	ws "lotcli/internal/websocket"
)

// stubMachine scripts the machine surface.
type stubMachine struct {
	startErr error
	stopErr  error
	progress extract.Progress
	hasData  bool
	stateErr error

	startCalls int
	stopCalls  int
}

func (m *stubMachine) Start(ctx context.Context) error {
	m.startCalls++
	return m.startErr
}

func (m *stubMachine) Stop(ctx context.Context) error {
	m.stopCalls++
	return m.stopErr
}

func (m *stubMachine) State(ctx context.Context) (extract.Progress, bool, error) {
	return m.progress, m.hasData, m.stateErr
}

// stubStore is an in-memory extract.Store.
type stubStore struct {
	progress extract.Progress
	data     *extract.AccumulatedData
	errs     []extract.ErrorEntry
	cleared  bool
}

func newStubStore() *stubStore { return &stubStore{data: &extract.AccumulatedData{}} }

func (s *stubStore) LoadProgress(ctx context.Context) (extract.Progress, error) {
	return s.progress, nil
}
func (s *stubStore) SaveProgress(ctx context.Context, p extract.Progress) error {
	s.progress = p
	return nil
}
func (s *stubStore) LoadData(ctx context.Context) (*extract.AccumulatedData, error) {
	return s.data, nil
}
func (s *stubStore) SaveData(ctx context.Context, d *extract.AccumulatedData) error {
	s.data = d
	return nil
}
func (s *stubStore) LoadErrors(ctx context.Context) ([]extract.ErrorEntry, error) {
	return s.errs, nil
}
func (s *stubStore) SaveErrors(ctx context.Context, errs []extract.ErrorEntry) error {
	s.errs = errs
	return nil
}
func (s *stubStore) ClearAll(ctx context.Context) error {
	s.cleared = true
	s.progress = extract.Progress{}
	s.data = &extract.AccumulatedData{}
	s.errs = nil
	return nil
}

type exportRecorder struct {
	formats []string
}

func (n *exportRecorder) Progress(status string, current, total int) {}
func (n *exportRecorder) Completed(s extract.Summary)                {}
func (n *exportRecorder) Stopped(progress string, hasData bool)      {}
func (n *exportRecorder) RunError(message, progress string)          {}
func (n *exportRecorder) ExportComplete(format string) {
	n.formats = append(n.formats, format)
}

func newTestHandler(m *stubMachine, s *stubStore, n extract.Notifier) http.Handler {
	h := NewExtractionHandler(m, s, ws.NewHub(nil), n, nil)
	return NewRouter(h, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["success"])
	return body["error"].(map[string]any)
}

func TestStartExtraction(t *testing.T) {
	m := &stubMachine{}
	rec := doJSON(t, newTestHandler(m, newStubStore(), nil), http.MethodPost, "/api/extraction/start", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, m.startCalls)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "started", body["status"])
}

func TestStartExtractionErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"already running", extract.ErrAlreadyRunning, http.StatusConflict, "EXTRACTION_RUNNING"},
		{"wrong page", extract.ErrWrongPage, http.StatusConflict, "WRONG_PAGE"},
		{"no targets", extract.ErrNoTargets, http.StatusNotFound, "NO_POSITIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &stubMachine{startErr: tt.err}
			rec := doJSON(t, newTestHandler(m, newStubStore(), nil), http.MethodPost, "/api/extraction/start", "")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec)["error_code"])
		})
	}
}

func TestStopExtraction(t *testing.T) {
	m := &stubMachine{}
	rec := doJSON(t, newTestHandler(m, newStubStore(), nil), http.MethodPost, "/api/extraction/stop", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, m.stopCalls)
}

func TestGetState(t *testing.T) {
	m := &stubMachine{
		progress: extract.Progress{IsRunning: true, CurrentIndex: 2, TotalPositions: 5},
		hasData:  true,
	}
	s := newStubStore()
	s.errs = []extract.ErrorEntry{{Symbol: "AAPL"}}

	rec := doJSON(t, newTestHandler(m, s, nil), http.MethodGet, "/api/extraction/state", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, body.Progress.IsRunning)
	assert.Equal(t, 2, body.Progress.CurrentIndex)
	assert.True(t, body.HasData)
	assert.Equal(t, 1, body.Errors)
}

func TestExportCSV(t *testing.T) {
	s := newStubStore()
	s.data.Merge("holdingsAccount_1", "AAPL", []extract.Lot{
		{OpenDate: "01/15/2024", Quantity: 10, Price: 120, HoldingPeriod: "Long"},
	})
	notifier := &exportRecorder{}

	rec := doJSON(t, newTestHandler(&stubMachine{}, s, notifier),
		http.MethodPost, "/api/export", `{"format":"csv"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="schwab-tax-lots.csv"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Account ID,Symbol,"))
	assert.Equal(t, []string{"csv"}, notifier.formats)
}

func TestExportNoData(t *testing.T) {
	rec := doJSON(t, newTestHandler(&stubMachine{}, newStubStore(), nil),
		http.MethodPost, "/api/export", `{"format":"json"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_DATA", decodeError(t, rec)["error_code"])
}

func TestExportInvalidFormat(t *testing.T) {
	rec := doJSON(t, newTestHandler(&stubMachine{}, newStubStore(), nil),
		http.MethodPost, "/api/export", `{"format":"pdf"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeError(t, rec)["error_code"])
}

func TestExportMissingFormat(t *testing.T) {
	rec := doJSON(t, newTestHandler(&stubMachine{}, newStubStore(), nil),
		http.MethodPost, "/api/export", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec)["error_code"])
}

func TestClearData(t *testing.T) {
	s := newStubStore()
	s.data.Merge("holdingsAccount_1", "AAPL", []extract.Lot{{OpenDate: "01/15/2024", Quantity: 1, Price: 1}})

	rec := doJSON(t, newTestHandler(&stubMachine{}, s, nil), http.MethodDelete, "/api/data", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.cleared)
}

func TestClearDataRefusedWhileRunning(t *testing.T) {
	m := &stubMachine{progress: extract.Progress{IsRunning: true}}
	s := newStubStore()

	rec := doJSON(t, newTestHandler(m, s, nil), http.MethodDelete, "/api/data", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, s.cleared)
}

func TestHealthz(t *testing.T) {
	rec := doJSON(t, newTestHandler(&stubMachine{}, newStubStore(), nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
