package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sabarim/dsingest/internal/dataset"
	"github.com/sabarim/dsingest/internal/ingest"
	"github.com/sabarim/dsingest/internal/logger"
	"github.com/sabarim/dsingest/internal/source"
	"github.com/sabarim/dsingest/internal/store"
)

type fakeService struct {
	datasets   map[string]*dataset.Dataset
	registered []ingest.RegisterInput
	processErr error
	processed  []string
}

func newFakeService() *fakeService {
	return &fakeService{datasets: map[string]*dataset.Dataset{
		"ds-1": {ID: "ds-1", Name: "prices", Status: dataset.StatusCompleted},
	}}
}

func (f *fakeService) Register(_ context.Context, in ingest.RegisterInput) (*dataset.Dataset, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ingest.ErrInvalidInput)
	}
	f.registered = append(f.registered, in)
	d := &dataset.Dataset{ID: "ds-new", Name: in.Name, FileName: in.FileName, Status: dataset.StatusPending}
	f.datasets[d.ID] = d
	return d, nil
}

func (f *fakeService) Process(_ context.Context, id string) (*ingest.Result, error) {
	f.processed = append(f.processed, id)
	if _, ok := f.datasets[id]; !ok {
		return nil, fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	if f.processErr != nil {
		// only runs that began carry a result
		if errors.Is(f.processErr, ingest.ErrProcessingFailed) || errors.Is(f.processErr, store.ErrStaleRun) {
			return &ingest.Result{DatasetID: id, Error: f.processErr.Error()}, f.processErr
		}
		return nil, f.processErr
	}
	f.datasets[id].Status = dataset.StatusCompleted
	return &ingest.Result{Success: true, DatasetID: id, RowCount: 3, SummaryCount: 2}, nil
}

func (f *fakeService) Retry(ctx context.Context, id string) (*ingest.Result, error) {
	return f.Process(ctx, id)
}

func (f *fakeService) Delete(_ context.Context, id string) error {
	if _, ok := f.datasets[id]; !ok {
		return fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	delete(f.datasets, id)
	return nil
}

func (f *fakeService) Get(_ context.Context, id string) (*dataset.Dataset, error) {
	d, ok := f.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	return d, nil
}

func (f *fakeService) List(_ context.Context, opts store.ListOptions) ([]dataset.Dataset, error) {
	var out []dataset.Dataset
	for _, d := range f.datasets {
		if opts.Status == "" || d.Status == opts.Status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeService) Summaries(ctx context.Context, id string) ([]dataset.Summary, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, rawURL string) (*source.File, error) {
	if strings.HasPrefix(rawURL, "ftp:") {
		return nil, fmt.Errorf("%w %q", source.ErrInvalidURL, rawURL)
	}
	if strings.Contains(rawURL, "huge") {
		return nil, fmt.Errorf("%w: limit is 16 bytes", source.ErrTooLarge)
	}
	if strings.Contains(rawURL, "broken") {
		return nil, fmt.Errorf("failed to download %s, status code: 500", rawURL)
	}
	return &source.File{Name: "remote.csv", Data: []byte("date,close\n2024-01-01,1\n")}, nil
}

func newTestRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(svc, fakeFetcher{}, logger.Discard())
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, url, fileName, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", "daily"); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	w := do(newTestRouter(newFakeService()), httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestUploadRegistersAndProcesses(t *testing.T) {
	svc := newFakeService()
	r := newTestRouter(svc)

	w := do(r, uploadRequest(t, "/api/v1/datasets", "prices.csv", "date,close\n2024-01-01,1\n"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(svc.registered) != 1 || svc.registered[0].Name != "daily" || svc.registered[0].FileName != "prices.csv" {
		t.Fatalf("unexpected registration %+v", svc.registered)
	}
	if len(svc.processed) != 1 || svc.processed[0] != "ds-new" {
		t.Fatalf("expected upload to be processed, got %v", svc.processed)
	}

	var body struct {
		Dataset dataset.Dataset `json:"dataset"`
		Result  ingest.Result   `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.Dataset.Status != dataset.StatusCompleted || !body.Result.Success {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestUploadWithoutProcessing(t *testing.T) {
	svc := newFakeService()
	w := do(newTestRouter(svc), uploadRequest(t, "/api/v1/datasets?process=false", "prices.csv", "x"))
	if w.Code != http.StatusCreated || len(svc.processed) != 0 {
		t.Fatalf("expected registration only, got %d and %v", w.Code, svc.processed)
	}
}

func TestUploadErrors(t *testing.T) {
	r := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	if w := do(r, req); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file, got %d", w.Code)
	}

	if w := do(r, uploadRequest(t, "/api/v1/datasets", "empty.csv", "")); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid input, got %d", w.Code)
	}
}

func TestProcessStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		id   string
		err  error
		want int
	}{
		{"ok", "ds-1", nil, http.StatusOK},
		{"missing", "nope", nil, http.StatusNotFound},
		{"failed", "ds-1", fmt.Errorf("%w: %w", ingest.ErrProcessingFailed, ingest.ErrNoRecords), http.StatusUnprocessableEntity},
		{"stale", "ds-1", fmt.Errorf("ds-1: %w", store.ErrStaleRun), http.StatusConflict},
		{"not pending", "ds-1", fmt.Errorf("%w: ds-1 is completed", ingest.ErrInvalidState), http.StatusConflict},
		{"internal", "ds-1", fmt.Errorf("database is down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := newFakeService()
		svc.processErr = tc.err
		w := do(newTestRouter(svc), httptest.NewRequest(http.MethodPost, "/api/v1/datasets/"+tc.id+"/process", nil))
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.want, w.Code, w.Body.String())
		}
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(fmt.Errorf("boom")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
	if got := statusFor(fmt.Errorf("x: %w", ingest.ErrInvalidInput)); got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}
}

func TestGetListDeleteRoutes(t *testing.T) {
	svc := newFakeService()
	r := newTestRouter(svc)

	if w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ds-1", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for get, got %d", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ds-1/summaries", nil)); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"data":[]`) {
		t.Fatalf("expected empty summary list, got %d %s", w.Code, w.Body.String())
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets?status=completed", nil)); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"count":1`) {
		t.Fatalf("unexpected list response %d %s", w.Code, w.Body.String())
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets?limit=abc", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodDelete, "/api/v1/datasets/ds-1", nil)); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for delete, got %d", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ds-1", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestImportDataset(t *testing.T) {
	svc := newFakeService()
	r := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/import", strings.NewReader(`{"url":"https://example.com/remote.csv","name":"remote"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := do(r, req); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if svc.registered[0].FileName != "remote.csv" || svc.registered[0].Name != "remote" {
		t.Fatalf("unexpected registration %+v", svc.registered[0])
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/datasets/import", strings.NewReader(`{"url":"https://example.com/broken"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := do(r, req); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/datasets/import", strings.NewReader(`{"url":"ftp://example.com/a.csv"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := do(r, req); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid url, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/datasets/import", strings.NewReader(`{"url":"https://example.com/huge.csv"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := do(r, req); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized remote file, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/datasets/import", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	if w := do(r, req); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without url, got %d", w.Code)
	}
}
