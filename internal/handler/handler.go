// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/logger"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/repository"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/service"
)

// Error codes that are transport concerns rather than model.Kind values.
const (
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeRateLimited  = "RATE_LIMITED"
	codeBadRequest   = "INVALID_REQUEST"
	codeUnavailable  = "TEMPORARILY_UNAVAILABLE"
	codeInternal     = "INTERNAL_ERROR"
	codeNotFound     = "NOT_FOUND"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OfferingStats reads outcome counters for an offering. Optional.
type OfferingStats interface {
	Offering(ctx context.Context, offeringID int64) (map[string]int64, error)
}

// Handler holds all HTTP handlers for the enrollment API.
type Handler struct {
	catalog     *service.CatalogService
	enrollments *service.EnrollmentService
	stats       OfferingStats
	log         *logger.Logger
}

// New constructs a Handler. stats may be nil.
func New(catalog *service.CatalogService, enrollments *service.EnrollmentService, stats OfferingStats, log *logger.Logger) *Handler {
	return &Handler{
		catalog:     catalog,
		enrollments: enrollments,
		stats:       stats,
		log:         log.With("component", "handler"),
	}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, Response{Error: &ErrorBody{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps a business failure kind to its HTTP status.
func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindMemberNotFound, model.KindOfferingNotFound, model.KindEnrollmentNotFound:
		return http.StatusNotFound
	case model.KindAlreadyActive, model.KindCourseFull, model.KindAlreadyCanceled:
		return http.StatusConflict
	case model.KindUnauthorizedCancel, model.KindInstructorOnly:
		return http.StatusForbidden
	case model.KindInvalidRequest, model.KindInvalidOffering:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err. Business failures keep their kind as the
// code; transient store failures become 503 with Retry-After; anything else
// is logged and hidden behind a 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var be *model.Error
	switch {
	case errors.As(err, &be):
		writeError(w, statusFor(be.Kind), string(be.Kind), be.Message)
	case repository.IsTransient(err):
		h.log.Warn("transient failure", "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "the service is busy, please retry")
	default:
		h.log.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// ─── Enrollments ──────────────────────────────────────────────────────────────

// Enroll handles POST /api/enrollments
// Admits the caller into every listed offering; per-offering failures are
// reported in the result body.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req model.EnrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.enrollments.EnrollBatch(r.Context(), id.MemberID, req.OfferingIDs)
	if err != nil {
		if result != nil && repository.IsTransient(err) {
			// Admissions already committed stay committed; report them.
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, Response{
				Data:  result,
				Error: &ErrorBody{Code: codeUnavailable, Message: "the service is busy; the remaining offerings were not processed"},
			})
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	if result.SuccessCount == 0 && result.HasFailure(model.KindCourseFull) {
		writeJSON(w, http.StatusConflict, Response{
			Data:  result,
			Error: &ErrorBody{Code: string(model.KindCourseFull), Message: "the requested offerings are full"},
		})
		return
	}
	writeOK(w, http.StatusOK, result)
}

// ListMyEnrollments handles GET /api/enrollments/my
func (h *Handler) ListMyEnrollments(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	views, err := h.enrollments.ListActive(r.Context(), id.MemberID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, views)
}

// CancelEnrollment handles DELETE /api/enrollments/{id}
func (h *Handler) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	enrollmentID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, "enrollment id must be a positive integer")
		return
	}

	if err := h.enrollments.Cancel(r.Context(), caller.MemberID, enrollmentID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

// ─── Offerings ────────────────────────────────────────────────────────────────

// CreateOffering handles POST /api/offerings
func (h *Handler) CreateOffering(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	var req model.CreateOfferingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	o, err := h.catalog.CreateOffering(r.Context(), caller.MemberID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, o)
}

// ListOfferings handles GET /api/offerings?page=&size=&sort=
func (h *Handler) ListOfferings(w http.ResponseWriter, r *http.Request) {
	q := model.OfferingQuery{
		Page: queryInt(r, "page"),
		Size: queryInt(r, "size"),
		Sort: model.ParseOfferingSort(r.URL.Query().Get("sort")),
	}
	page, err := h.catalog.ListOfferings(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, page)
}

// GetOffering handles GET /api/offerings/{id}
func (h *Handler) GetOffering(w http.ResponseWriter, r *http.Request) {
	offeringID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, "offering id must be a positive integer")
		return
	}
	o, err := h.catalog.GetOffering(r.Context(), offeringID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, o)
}

// OfferingStats handles GET /api/offerings/{id}/stats
// Returns admission outcome counters; 404 when stats are not configured.
func (h *Handler) OfferingStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "stats are not enabled")
		return
	}
	offeringID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, "offering id must be a positive integer")
		return
	}
	if _, err := h.catalog.GetOffering(r.Context(), offeringID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	counts, err := h.stats.Offering(r.Context(), offeringID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, counts)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
