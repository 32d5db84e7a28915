package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/agent"
	"github.com/shelfwatch/shelfwatch/internal/detect"
	"github.com/shelfwatch/shelfwatch/internal/domain"
	"github.com/shelfwatch/shelfwatch/internal/pipeline"
	"github.com/shelfwatch/shelfwatch/internal/store"
	"github.com/shelfwatch/shelfwatch/internal/store/sqlite"
)

type fakeEngine struct {
	result *agent.Result
	err    error
}

func (f *fakeEngine) Decide(ctx context.Context, event domain.GapEvent) (*agent.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

var dbSeq atomic.Int64

func newTestServer(t *testing.T, engine pipeline.Engine) (*Server, *sqlite.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := sqlite.New(fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", dbSeq.Add(1)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mapping := detect.NewStaticMapping(map[string]string{"Arla-Standard-Milk": "Milk"})
	adapter := detect.NewAdapter(mapping, logger)

	pipe := pipeline.New(engine, pipeline.NewApplier(st, logger), logger)

	srv := New(8080, logger)
	NewHandlers(pipe, adapter, st, logger).Register(srv.Router)
	return srv, st
}

func seedMilk(t *testing.T, st *sqlite.Store, quantity int) {
	t.Helper()
	if err := st.InsertProduct(context.Background(), &store.Product{
		Name:            "Milk",
		QuantityInStore: quantity,
		Shelf:           "Shelf 1",
		Aisle:           "A1",
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func alertResult() *agent.Result {
	return &agent.Result{Decision: domain.Decision{
		Action:      domain.ActionAlert,
		ProductName: "Milk",
		UserID:      1,
	}}
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (kind, message string) {
	t.Helper()
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Kind, body.Error.Message
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})

	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("response is missing the request ID header")
	}
}

func TestPostGapEvent(t *testing.T) {
	srv, st := newTestServer(t, &fakeEngine{result: alertResult()})
	seedMilk(t, st, 12)

	rec := doJSON(t, srv, http.MethodPost, "/v1/gap-events", domain.GapEvent{
		ProductName:       "Milk",
		DetectedGapSize:   domain.GapSizeLarge,
		ShelfID:           "Shelf 1",
		ObservedAt:        time.Now().UTC(),
		SourceDetectionID: "evt-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var outcome pipeline.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Decision.Action != domain.ActionAlert {
		t.Errorf("Action = %v, want alert", outcome.Decision.Action)
	}
	if outcome.Apply == nil || outcome.Apply.AlertID == 0 {
		t.Errorf("Apply = %+v, want an alert ID", outcome.Apply)
	}
}

func TestPostGapEvent_Invalid(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})

	tests := []struct {
		name     string
		body     any
		wantKind string
	}{
		{"not json", "not-json", "malformed_event"},
		{"missing fields", domain.GapEvent{ProductName: "Milk"}, "malformed_event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/v1/gap-events", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if kind, _ := decodeError(t, rec); kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
		})
	}
}

func TestPostGapEvent_EngineTimeout(t *testing.T) {
	srv, st := newTestServer(t, &fakeEngine{err: domain.ErrModelTimeout("reasoning backend call exceeded deadline")})
	seedMilk(t, st, 12)

	rec := doJSON(t, srv, http.MethodPost, "/v1/gap-events", domain.GapEvent{
		ProductName:       "Milk",
		DetectedGapSize:   domain.GapSizeLarge,
		ShelfID:           "Shelf 1",
		SourceDetectionID: "evt-1",
	})
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if kind, _ := decodeError(t, rec); kind != "model_timeout" {
		t.Errorf("kind = %q, want model_timeout", kind)
	}
}

func TestPostDetection(t *testing.T) {
	srv, st := newTestServer(t, &fakeEngine{result: alertResult()})
	seedMilk(t, st, 12)

	rec := doJSON(t, srv, http.MethodPost, "/v1/detections", detect.RawDetection{
		DetectionID: "det-1",
		ShelfID:     "Shelf 1",
		ImageWidth:  100,
		ImageHeight: 100,
		Detections: []detect.Detection{
			{Box: [4]float64{0, 0, 60, 60}, Label: "Arla-Standard-Milk", Confidence: 0.92},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var outcome pipeline.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Event.ProductName != "Milk" {
		t.Errorf("ProductName = %q, want Milk", outcome.Event.ProductName)
	}
	if outcome.Event.DetectedGapSize != domain.GapSizeLarge {
		t.Errorf("DetectedGapSize = %v, want large", outcome.Event.DetectedGapSize)
	}
	if outcome.Event.SourceDetectionID != "det-1" {
		t.Errorf("SourceDetectionID = %q, want det-1", outcome.Event.SourceDetectionID)
	}
}

func TestPostImage(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"detections": []detect.Detection{
				{Box: [4]float64{0, 0, 40, 40}, Label: "Arla-Standard-Milk", Confidence: 0.88},
			},
			"count": 1,
		})
	}))
	defer model.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := sqlite.New(fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", dbSeq.Add(1)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	seedMilk(t, st, 12)

	mapping := detect.NewStaticMapping(map[string]string{"Arla-Standard-Milk": "Milk"})
	pipe := pipeline.New(&fakeEngine{result: alertResult()}, pipeline.NewApplier(st, logger), logger)

	srv := New(8080, logger)
	NewHandlers(pipe, detect.NewAdapter(mapping, logger), st, logger).
		WithModelClient(detect.NewClient(model.URL)).
		Register(srv.Router)

	rec := doJSON(t, srv, http.MethodPost, "/v1/images", map[string]any{
		"detection_id": "det-1",
		"shelf_id":     "Shelf 1",
		"image_width":  100,
		"image_height": 100,
		"image":        []byte("fake-image-bytes"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var outcome pipeline.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Event.ProductName != "Milk" {
		t.Errorf("ProductName = %q, want Milk", outcome.Event.ProductName)
	}
	if outcome.Event.DetectedGapSize != domain.GapSizeMedium {
		t.Errorf("DetectedGapSize = %v, want medium", outcome.Event.DetectedGapSize)
	}
}

func TestPostImage_NotMountedWithoutModel(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/images", map[string]any{"shelf_id": "Shelf 1"})
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 404 or 405", rec.Code)
	}
}

func TestPostDetection_UnknownLabel(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/detections", detect.RawDetection{
		DetectionID: "det-1",
		ShelfID:     "Shelf 1",
		ImageWidth:  100,
		ImageHeight: 100,
		Detections: []detect.Detection{
			{Box: [4]float64{0, 0, 60, 60}, Label: "Mystery-Item", Confidence: 0.92},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	kind, message := decodeError(t, rec)
	if kind != "unknown_product" {
		t.Errorf("kind = %q, want unknown_product", kind)
	}
	if message == "" {
		t.Error("error message should not be empty")
	}
}

func TestListEndpoints(t *testing.T) {
	srv, st := newTestServer(t, &fakeEngine{result: alertResult()})
	seedMilk(t, st, 12)

	// Produce one alert and one inventory log through the pipeline.
	rec := doJSON(t, srv, http.MethodPost, "/v1/gap-events", domain.GapEvent{
		ProductName:       "Milk",
		DetectedGapSize:   domain.GapSizeMedium,
		ShelfID:           "Shelf 1",
		SourceDetectionID: "evt-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed event: status = %d", rec.Code)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/v1/products", 1},
		{"/v1/alerts", 1},
		{"/v1/reorders", 0},
		{"/v1/inventory-logs", 1},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodGet, tt.path, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var items []json.RawMessage
			if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
				t.Fatalf("decode list: %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("items = %d, want %d", len(items), tt.want)
			}
		})
	}
}

func TestListProducts_Limit(t *testing.T) {
	srv, st := newTestServer(t, &fakeEngine{})
	for i := 0; i < 3; i++ {
		if err := st.InsertProduct(context.Background(), &store.Product{
			Name: fmt.Sprintf("Product %d", i),
		}); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}

	rec := doJSON(t, srv, http.MethodGet, "/v1/products?limit=2&offset=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var products []store.Product
	if err := json.Unmarshal(rec.Body.Bytes(), &products); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("products = %d, want 2", len(products))
	}
	if products[0].Name != "Product 1" {
		t.Errorf("first product = %q, want Product 1", products[0].Name)
	}
}
