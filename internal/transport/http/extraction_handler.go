// Package http exposes the extraction control surface: start/stop/state
// commands, export downloads, and the websocket event stream.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	gorillaws "github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "lotcli/internal/errors"
	"lotcli/internal/exporter"
	"lotcli/internal/extract"
	ws "lotcli/internal/websocket"
)

// Machine is the extraction lifecycle surface the handler drives.
type Machine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State(ctx context.Context) (extract.Progress, bool, error)
}

// ExtractionHandler handles extraction control and export requests.
type ExtractionHandler struct {
	machine  Machine
	store    extract.Store
	hub      *ws.Hub
	notifier extract.Notifier
	logger   *slog.Logger
	validate *validator.Validate
	upgrader gorillaws.Upgrader
}

// NewExtractionHandler creates the handler. The notifier receives export
// completion events; the hub serves the websocket endpoint.
func NewExtractionHandler(machine Machine, store extract.Store, hub *ws.Hub, notifier extract.Notifier, logger *slog.Logger) *ExtractionHandler {
	if machine == nil {
		panic("machine cannot be nil")
	}
	if store == nil {
		panic("store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionHandler{
		machine:  machine,
		store:    store,
		hub:      hub,
		notifier: notifier,
		logger:   logger.With(slog.String("handler", "extraction")),
		validate: validator.New(),
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local tool listening on loopback only.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns a chi router for the extraction endpoints.
func (h *ExtractionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/extraction/start", h.StartExtraction)
	r.Post("/extraction/stop", h.StopExtraction)
	r.Get("/extraction/state", h.GetState)
	r.Post("/export", h.Export)
	r.Delete("/data", h.ClearData)
	return r
}

// StartExtraction handles POST /api/extraction/start.
func (h *ExtractionHandler) StartExtraction(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("extraction-handler").Start(r.Context(), "handler.start_extraction",
		trace.WithAttributes(attribute.String("http.route", "/api/extraction/start")))
	defer span.End()

	if err := h.machine.Start(ctx); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "start request failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(startError(err)))
		return
	}

	h.logger.InfoContext(ctx, "extraction started")
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{"success": true, "status": "started"})
}

// StopExtraction handles POST /api/extraction/stop. Stopping an idle
// machine succeeds without effect.
func (h *ExtractionHandler) StopExtraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.machine.Stop(ctx); err != nil {
		h.logger.ErrorContext(ctx, "stop request failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InternalError(err)))
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "status": "stopping"})
}

// StateResponse is the GET /api/extraction/state body.
type StateResponse struct {
	Success  bool             `json:"success"`
	Progress extract.Progress `json:"progress"`
	HasData  bool             `json:"has_data"`
	Errors   int              `json:"errors"`
}

// GetState handles GET /api/extraction/state.
func (h *ExtractionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	progress, hasData, err := h.machine.State(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "state request failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InternalError(err)))
		return
	}
	errs, err := h.store.LoadErrors(ctx)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InternalError(err)))
		return
	}
	render.JSON(w, r, StateResponse{
		Success:  true,
		Progress: progress,
		HasData:  hasData,
		Errors:   len(errs),
	})
}

// ExportRequest is the POST /api/export body.
type ExportRequest struct {
	Format string `json:"format" validate:"required,oneof=json csv xlsx"`
}

// Bind implements the render.Binder interface.
func (req *ExportRequest) Bind(r *http.Request) error {
	if req.Format == "" {
		return errors.New("format is required")
	}
	return nil
}

// Export handles POST /api/export and serves the rendered file as a
// download.
func (h *ExtractionHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ExportRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.ErrValidation("format", "must be one of json, csv, xlsx")))
		return
	}

	format := exporter.Format(req.Format)
	data, err := h.store.LoadData(ctx)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InternalError(err)))
		return
	}

	body, err := exporter.Export(data, format)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(exportError(err, format)))
		return
	}

	h.logger.InfoContext(ctx, "export served",
		slog.String("format", req.Format),
		slog.Int("bytes", len(body)))
	if h.notifier != nil {
		h.notifier.ExportComplete(req.Format)
	}

	w.Header().Set("Content-Type", exporter.ContentType(format))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", exporter.Filename(format)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// ClearData handles DELETE /api/data: it wipes all persisted extraction
// state. Refused while a run is in progress.
func (h *ExtractionHandler) ClearData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	progress, _, err := h.machine.State(ctx)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InternalError(err)))
		return
	}
	if progress.IsRunning {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrAlreadyRunning))
		return
	}
	if err := h.store.ClearAll(ctx); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InternalError(err)))
		return
	}
	h.logger.InfoContext(ctx, "persisted extraction state cleared")
	render.JSON(w, r, map[string]any{"success": true, "status": "cleared"})
}

// ServeWS handles GET /ws.
func (h *ExtractionHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	ws.ServeWS(h.hub, conn, h.logger)
}

func startError(err error) *apierrors.APIError {
	switch {
	case errors.Is(err, extract.ErrAlreadyRunning):
		return apierrors.ErrAlreadyRunning
	case errors.Is(err, extract.ErrWrongPage):
		return apierrors.ErrWrongPage
	case errors.Is(err, extract.ErrNoTargets):
		return apierrors.ErrNoPositions
	default:
		return apierrors.NewWithDetails(
			apierrors.ErrExtractionFailure.StatusCode,
			apierrors.ErrExtractionFailure.ErrorCode,
			apierrors.ErrExtractionFailure.Message,
			err.Error())
	}
}

func exportError(err error, format exporter.Format) *apierrors.APIError {
	var unsupported *exporter.UnsupportedFormatError
	switch {
	case errors.Is(err, exporter.ErrNoData):
		return apierrors.ErrNoData
	case errors.As(err, &unsupported):
		return apierrors.UnsupportedFormat(string(format))
	default:
		return apierrors.InternalError(err)
	}
}
