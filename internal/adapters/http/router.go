package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/docintake/internal/config"
	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
	"github.com/kirillkom/docintake/internal/observability/metrics"
)

const (
	serviceName         = "api"
	multipartMemory     = 32 << 20
	multipartOverhead   = 1 << 20
	maxJSONBodyBytes    = 1 << 20
	defaultUploadMaxLen = 10 << 20
)

type Router struct {
	cfg       config.Config
	ingest    ports.DocumentIngestor
	documents ports.DocumentReader
	tasks     ports.TaskService
	ingestion ports.IngestionController
	metrics   *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	ingest ports.DocumentIngestor,
	documents ports.DocumentReader,
	tasks ports.TaskService,
	ingestion ports.IngestionController,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	if cfg.UploadMaxBytes <= 0 {
		cfg.UploadMaxBytes = defaultUploadMaxLen
	}
	return &Router{
		cfg:       cfg,
		ingest:    ingest,
		documents: documents,
		tasks:     tasks,
		ingestion: ingestion,
		metrics:   httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /ingestion/{channel}/start", rt.startIngestion)
	api.HandleFunc("POST /ingestion/{channel}/stop", rt.stopIngestion)
	api.HandleFunc("GET /ingestion/{channel}/status", rt.ingestionStatus)
	api.HandleFunc("POST /ingestion/{channel}/clear-notifications", rt.clearNotifications)
	api.HandleFunc("POST /documents/upload", rt.uploadDocument)
	api.HandleFunc("GET /documents/{id}", rt.getDocumentByID)
	api.HandleFunc("POST /tasks/batch", rt.createTaskBatch)
	api.HandleFunc("GET /tasks", rt.listTasks)
	api.HandleFunc("PATCH /tasks/{id}/status", rt.updateTaskStatus)

	var protected http.Handler = authMiddleware(rt.cfg.APIKey, api)
	protected = backpressureMiddleware(protected, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait)
	protected = rateLimitMiddleware(protected, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onRateLimited)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}
	root.Handle("/", protected)

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) onRateLimited() {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, "rate_limit")
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) channelFromPath(r *http.Request) (domain.Channel, error) {
	raw := r.PathValue("channel")
	channel, ok := domain.ParseWatchedChannel(raw)
	if !ok {
		return "", domain.WrapError(domain.ErrUnknownChannel, "resolve channel", fmt.Errorf("channel %q", raw))
	}
	return channel, nil
}

// startIngestion answers 202 once the watcher is launched; connection
// progress is reported by the status endpoint.
func (rt *Router) startIngestion(w http.ResponseWriter, r *http.Request) {
	channel, err := rt.channelFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := rt.ingestion.Start(r.Context(), channel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (rt *Router) stopIngestion(w http.ResponseWriter, r *http.Request) {
	channel, err := rt.channelFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := rt.ingestion.Stop(r.Context(), channel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) ingestionStatus(w http.ResponseWriter, r *http.Request) {
	channel, err := rt.channelFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.ingestion.Status(channel))
}

func (rt *Router) clearNotifications(w http.ResponseWriter, r *http.Request) {
	channel, err := rt.channelFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cleared := rt.ingestion.ClearNotifications(channel, req.IDs)
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.UploadMaxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, domain.WrapError(domain.ErrPayloadTooLarge, "upload document", err))
			return
		}
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload document", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	doc, err := rt.documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type taskBatchRequest struct {
	ActionItems *[]domain.ActionItem `json:"actionItems"`
	DocumentID  string               `json:"documentId"`
	CreatedBy   string               `json:"createdBy"`
}

type taskBatchResponse struct {
	Tasks []domain.Task `json:"tasks"`
	Error string        `json:"error,omitempty"`
}

// createTaskBatch answers 201, or 207 when only part of the batch was
// stored.
func (rt *Router) createTaskBatch(w http.ResponseWriter, r *http.Request) {
	var req taskBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ActionItems == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actionItems is required"})
		return
	}

	tasks, err := rt.tasks.CreateBatch(r.Context(), *req.ActionItems, req.DocumentID, req.CreatedBy)
	if tasks == nil {
		tasks = []domain.Task{}
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, taskBatchResponse{Tasks: tasks})
	case domain.IsKind(err, domain.ErrPartialBatch):
		writeJSON(w, http.StatusMultiStatus, taskBatchResponse{Tasks: tasks, Error: err.Error()})
	default:
		writeError(w, r, err)
	}
}

func (rt *Router) listTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.TaskFilter{
		Status:     domain.TaskStatus(strings.TrimSpace(query.Get("status"))),
		DocumentID: strings.TrimSpace(query.Get("documentId")),
	}

	tasks, err := rt.tasks.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Task{"tasks": tasks})
}

func (rt *Router) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.TaskStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	task, err := rt.tasks.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("invalid json"))
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("invalid json"))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
