package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dorofeevb1/sodrugestvobot/internal/database"
	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/history"
	"github.com/dorofeevb1/sodrugestvobot/internal/importer"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
	"github.com/dorofeevb1/sodrugestvobot/internal/platform"
	"github.com/dorofeevb1/sodrugestvobot/internal/scheduler"
)

const (
	defaultHistoryLimit = 50
	maxImportBody       = 1 << 20

	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type ProductLookup interface {
	GetProductData(ctx context.Context, url string) (*models.ExtractionResult, error)
}

type Tracker interface {
	Track(ctx context.Context, telegramID int64, username, url string) (*models.Product, error)
	List(ctx context.Context, telegramID int64) ([]*models.Product, error)
	Untrack(ctx context.Context, telegramID, productID int64) error
	History(ctx context.Context, telegramID, productID int64, limit int) ([]models.PriceHistoryRecord, error)
	Stats(ctx context.Context, telegramID int64) (*models.UserStats, error)
}

type Importer interface {
	Import(ctx context.Context, telegramID int64, username string, r io.Reader) (*importer.Report, error)
}

type SchedulerStatus interface {
	State() scheduler.State
	LastReport() *scheduler.Report
	Interval() time.Duration
}

type EventBacklog interface {
	Backlog(ctx context.Context) (database.Backlog, error)
}

type QueueStatus interface {
	Len() int
	Dropped() uint64
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Lookup    ProductLookup
	Tracker   Tracker
	Importer  Importer
	Scheduler SchedulerStatus
	Events    EventBacklog
	Queue     QueueStatus
}

type Handlers struct {
	lookup    ProductLookup
	tracker   Tracker
	importer  Importer
	scheduler SchedulerStatus
	events    EventBacklog
	queue     QueueStatus
	logger    *slog.Logger
}

func NewHandlers(deps Deps, logger *slog.Logger) *Handlers {
	return &Handlers{
		lookup:    deps.Lookup,
		tracker:   deps.Tracker,
		importer:  deps.Importer,
		scheduler: deps.Scheduler,
		events:    deps.Events,
		queue:     deps.Queue,
		logger:    logger.With("component", "api"),
	}
}

// LookupRequest asks for a one-off extraction
type LookupRequest struct {
	URL string `json:"url"`
}

// TrackRequest starts tracking a product for a user
type TrackRequest struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type PlatformInfo struct {
	ID    models.Platform `json:"id"`
	Name  string          `json:"name"`
	Hosts []string        `json:"hosts"`
}

type SchedulerResponse struct {
	State      scheduler.State   `json:"state"`
	Interval   string            `json:"interval"`
	LastReport *scheduler.Report `json:"last_report,omitempty"`
}

// Health reports outbox backlog and notification queue state
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	backlog, err := h.events.Backlog(ctx)
	if err != nil {
		h.logger.Warn("failed to read event backlog", "error", err)
	}

	health := map[string]interface{}{
		"status": "ok",
		"outbox": backlog,
		"queue": map[string]interface{}{
			"length":  h.queue.Len(),
			"dropped": h.queue.Dropped(),
		},
		"scheduler": h.scheduler.State(),
	}

	status := http.StatusOK
	if backlog.Pending > pendingWarnThreshold {
		health["status"] = "warning"
		health["message"] = "High number of pending product events"
	}
	if backlog.Dead > deadLetterFailThreshold {
		health["status"] = "error"
		health["message"] = "High number of dead letter events"
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, health)
}

// Lookup extracts a product page without persisting anything
func (h *Handlers) Lookup(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	res, err := h.lookup.GetProductData(r.Context(), req.URL)
	if err != nil {
		h.handleError(w, err, "failed to look up product", "url", req.URL)
		return
	}

	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) TrackProduct(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := h.telegramID(w, r)
	if !ok {
		return
	}

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	product, err := h.tracker.Track(r.Context(), telegramID, req.Username, req.URL)
	if err != nil {
		h.handleError(w, err, "failed to track product", "telegram_id", telegramID, "url", req.URL)
		return
	}

	h.respondJSON(w, http.StatusCreated, product)
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := h.telegramID(w, r)
	if !ok {
		return
	}

	products, err := h.tracker.List(r.Context(), telegramID)
	if err != nil {
		h.handleError(w, err, "failed to list products", "telegram_id", telegramID)
		return
	}

	h.respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) UntrackProduct(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := h.telegramID(w, r)
	if !ok {
		return
	}
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}

	if err := h.tracker.Untrack(r.Context(), telegramID, productID); err != nil {
		h.handleError(w, err, "failed to untrack product", "telegram_id", telegramID, "product_id", productID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ProductHistory returns price records newest first, or oldest first with
// order=asc for charting. limit always keeps the newest records.
func (h *Handlers) ProductHistory(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := h.telegramID(w, r)
	if !ok {
		return
	}
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	order := r.URL.Query().Get("order")
	if order != "" && order != "asc" && order != "desc" {
		h.respondError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	records, err := h.tracker.History(r.Context(), telegramID, productID, limit)
	if err != nil {
		h.handleError(w, err, "failed to get history", "telegram_id", telegramID, "product_id", productID)
		return
	}
	if order == "asc" {
		records = history.Ascending(records)
	}

	h.respondJSON(w, http.StatusOK, records)
}

// Import reads one URL per line from a text/plain body
func (h *Handlers) Import(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := h.telegramID(w, r)
	if !ok {
		return
	}
	username := r.URL.Query().Get("username")

	// An import outlives the server's WriteTimeout; the report must still reach the client.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to clear write deadline", "error", err)
	}

	body := http.MaxBytesReader(w, r.Body, maxImportBody)
	report, err := h.importer.Import(r.Context(), telegramID, username, body)
	switch {
	case errors.Is(err, importer.ErrTooManyLines):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && report == nil:
		h.handleError(w, err, "failed to import", "telegram_id", telegramID)
		return
	case err != nil:
		h.logger.Warn("import interrupted", "telegram_id", telegramID, "processed", report.Total(), "error", err)
	}

	h.respondJSON(w, http.StatusOK, report)
}

func (h *Handlers) UserStats(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := h.telegramID(w, r)
	if !ok {
		return
	}

	stats, err := h.tracker.Stats(r.Context(), telegramID)
	if err != nil {
		h.handleError(w, err, "failed to get stats", "telegram_id", telegramID)
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) SchedulerState(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, SchedulerResponse{
		State:      h.scheduler.State(),
		Interval:   h.scheduler.Interval().String(),
		LastReport: h.scheduler.LastReport(),
	})
}

func (h *Handlers) Platforms(w http.ResponseWriter, r *http.Request) {
	supported := platform.Supported()
	out := make([]PlatformInfo, 0, len(supported))
	for _, p := range supported {
		out = append(out, PlatformInfo{ID: p, Name: p.DisplayName(), Hosts: platform.Hosts(p)})
	}
	h.respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) telegramID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "telegramID"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid telegram ID")
		return 0, false
	}
	return id, true
}

func (h *Handlers) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid product ID")
		return 0, false
	}
	return id, true
}

// statusFor maps pipeline and repository errors onto HTTP statuses.
func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindUnsupportedPlatform, apperrors.KindInvalidURL,
		apperrors.KindExtraction, apperrors.KindPriceParse:
		return http.StatusUnprocessableEntity
	case apperrors.KindDuplicateProduct:
		return http.StatusConflict
	case apperrors.KindFetchTimeout, apperrors.KindBlocked:
		return http.StatusBadGateway
	}
	if errors.Is(err, database.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *Handlers) handleError(w http.ResponseWriter, err error, msg string, args ...interface{}) {
	status := statusFor(err)
	args = append(args, "error", err, "status", status)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, args...)
	} else {
		h.logger.Warn(msg, args...)
	}

	resp := ErrorResponse{Error: err.Error(), Kind: string(apperrors.KindOf(err))}
	switch {
	case status == http.StatusNotFound:
		resp.Error = "not found"
	case status == http.StatusInternalServerError:
		resp.Error = "internal error"
	}
	h.respondJSON(w, status, resp)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}
