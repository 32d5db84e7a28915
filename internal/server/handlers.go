package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shelfwatch/shelfwatch/internal/detect"
	"github.com/shelfwatch/shelfwatch/internal/domain"
	"github.com/shelfwatch/shelfwatch/internal/pipeline"
	"github.com/shelfwatch/shelfwatch/internal/store"
)

// Handlers exposes the pipeline and inventory reads over HTTP.
type Handlers struct {
	pipeline *pipeline.Pipeline
	adapter  *detect.Adapter
	reader   store.InventoryReader
	model    *detect.Client
	logger   *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(p *pipeline.Pipeline, adapter *detect.Adapter, reader store.InventoryReader, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{pipeline: p, adapter: adapter, reader: reader, logger: logger}
}

// WithModelClient enables the image ingest endpoint, which runs shelf
// images through the external detection model before the pipeline.
func (h *Handlers) WithModelClient(c *detect.Client) *Handlers {
	h.model = c
	return h
}

// Register mounts the routes on the router.
func (h *Handlers) Register(r *chi.Mux) {
	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/detections", h.postDetection)
		r.Post("/gap-events", h.postGapEvent)
		if h.model != nil {
			r.Post("/images", h.postImage)
		}
		r.Get("/products", h.listProducts)
		r.Get("/alerts", h.listAlerts)
		r.Get("/reorders", h.listReorders)
		r.Get("/inventory-logs", h.listInventoryLogs)
	})
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// postDetection ingests a raw detection-model result, normalizes it and
// runs it through the decision pipeline.
func (h *Handlers) postDetection(w http.ResponseWriter, r *http.Request) {
	var raw detect.RawDetection
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, domain.ErrMalformedEvent("request body is not valid JSON"))
		return
	}

	event, err := h.adapter.Normalize(raw)
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.pipeline.Process(r.Context(), *event)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type imageRequest struct {
	DetectionID string `json:"detection_id"`
	ShelfID     string `json:"shelf_id"`
	ImageWidth  int    `json:"image_width"`
	ImageHeight int    `json:"image_height"`
	Image       []byte `json:"image"`
}

// postImage submits a shelf image to the detection model and runs the
// result through the pipeline.
func (h *Handlers) postImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrMalformedEvent("request body is not valid JSON"))
		return
	}
	if len(req.Image) == 0 {
		writeError(w, domain.ErrMalformedEvent("image is required"))
		return
	}

	detections, err := h.model.Infer(r.Context(), req.Image)
	if err != nil {
		h.logger.Error("detection model call failed", slog.String("error", err.Error()))
		writeError(w, domain.NewError(domain.ErrKindBackendUnavailable, "detection model unavailable").WithErr(err))
		return
	}

	event, err := h.adapter.Normalize(detect.RawDetection{
		DetectionID: req.DetectionID,
		ShelfID:     req.ShelfID,
		ImageWidth:  req.ImageWidth,
		ImageHeight: req.ImageHeight,
		Detections:  detections,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.pipeline.Process(r.Context(), *event)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// postGapEvent accepts a pre-normalized gap event from an external
// detection trigger.
func (h *Handlers) postGapEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.GapEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, domain.ErrMalformedEvent("request body is not valid JSON"))
		return
	}

	outcome, err := h.pipeline.Process(r.Context(), event)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.reader.ListProducts(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.reader.ListAlerts(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handlers) listReorders(w http.ResponseWriter, r *http.Request) {
	reorders, err := h.reader.ListReorders(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reorders)
}

func (h *Handlers) listInventoryLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.reader.ListInventoryLogs(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func listOptions(r *http.Request) store.ListOptions {
	opts := store.ListOptions{}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		opts.Offset = v
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	status := http.StatusInternalServerError

	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		status = pe.HTTPStatusCode()
		body.Error.Kind = string(pe.Kind)
		body.Error.Message = pe.Message
	} else {
		body.Error.Kind = "internal"
		body.Error.Message = err.Error()
	}

	writeJSON(w, status, body)
}
