// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/repository"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/service"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/ticket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// TicketHandler holds all HTTP handlers for the ticketing API.
type TicketHandler struct {
	svc *service.RegistrationService
}

// NewTicketHandler constructs a TicketHandler.
func NewTicketHandler(svc *service.RegistrationService) *TicketHandler {
	return &TicketHandler{svc: svc}
}

// IssuedResponse is returned by POST /registrations.
type IssuedResponse struct {
	Registration    model.Registration `json:"registration"`
	Payload         ticket.Payload     `json:"payload"`
	QR              string             `json:"qr"`
	PlacesRemaining int                `json:"places_remaining"`
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

// writeInternal logs err with the request logger and hides it from the client.
func writeInternal(w http.ResponseWriter, r *http.Request, err error, msg string) {
	hlog.FromRequest(r).Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ─── Registrations ────────────────────────────────────────────────────────────

// CreateRegistration handles POST /registrations
// Reserves a seat, binds an identifier and returns the ticket payload.
func (h *TicketHandler) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRegistrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	issued, err := h.svc.Create(r.Context(), req.Contact())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidContact):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrCapacityExhausted):
			writeError(w, http.StatusConflict, "no more places available")
		case errors.Is(err, repository.ErrPoolExhausted):
			writeError(w, http.StatusServiceUnavailable, "no ticket identifiers available")
		default:
			writeInternal(w, r, err, "failed to create registration")
		}
		return
	}

	qr, err := ticket.DataURL(issued.Payload, ticket.DefaultQRSize)
	if err != nil {
		writeInternal(w, r, err, "failed to render qr code")
		return
	}

	writeJSON(w, http.StatusCreated, IssuedResponse{
		Registration:    issued.Registration,
		Payload:         issued.Payload,
		QR:              qr,
		PlacesRemaining: issued.Capacity.Available,
	})
}

// ListRegistrations handles GET /registrations
func (h *TicketHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.Registrations(r.Context())
	if err != nil {
		writeInternal(w, r, err, "failed to list registrations")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// GetRegistration handles GET /registrations/{id}
func (h *TicketHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reg, err := h.svc.Registration(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "registration not found")
			return
		}
		writeInternal(w, r, err, "failed to get registration")
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// RegistrationQR handles GET /registrations/{id}/qr.png
// Optional ?size= sets the edge length in pixels.
func (h *TicketHandler) RegistrationQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	size := ticket.DefaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > 2048 {
			writeError(w, http.StatusBadRequest, "size must be an integer between 64 and 2048")
			return
		}
		size = n
	}

	payload, err := h.svc.Payload(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "registration not found")
			return
		}
		writeInternal(w, r, err, "failed to encode payload")
		return
	}

	png, err := ticket.PNG(payload, size)
	if err != nil {
		writeInternal(w, r, err, "failed to render qr code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// ─── Tickets ──────────────────────────────────────────────────────────────────

// VerifyTicket handles POST /tickets/verify
// Always answers 200 with the scan result; it never changes state.
func (h *TicketHandler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	var req model.ScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.Verify(r.Context(), req.Code)
	if err != nil {
		writeInternal(w, r, err, "failed to verify ticket")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// CheckIn handles POST /tickets/checkin
// The status code mirrors the scan outcome; the body is always a ScanResult.
func (h *TicketHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req model.ScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.CheckIn(r.Context(), req.Code)
	if err != nil {
		writeInternal(w, r, err, "failed to check in")
		return
	}

	writeJSON(w, checkInStatus(res), res)
}

func checkInStatus(res *model.ScanResult) int {
	switch {
	case res.Status == model.StatusSuccess:
		return http.StatusOK
	case res.Status == model.StatusUsed:
		return http.StatusConflict
	case res.Reason == model.ReasonNotFound, res.Reason == model.ReasonNotAssigned:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

// ─── Operator views ───────────────────────────────────────────────────────────

// Stats handles GET /stats
func (h *TicketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusServiceUnavailable, "capacity ledger not initialised")
		case errors.Is(err, repository.ErrLedgerCorrupt):
			writeInternal(w, r, err, "capacity ledger corrupt")
		default:
			writeInternal(w, r, err, "failed to compute stats")
		}
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ListIdentifiers handles GET /identifiers?assigned=true|false&limit=N
func (h *TicketHandler) ListIdentifiers(w http.ResponseWriter, r *http.Request) {
	var f repository.IdentifierFilter
	q := r.URL.Query()
	if raw := q.Get("assigned"); raw != "" {
		assigned, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "assigned must be true or false")
			return
		}
		f.Assigned = &assigned
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}

	ids, err := h.svc.Identifiers(r.Context(), f)
	if err != nil {
		writeInternal(w, r, err, "failed to list identifiers")
		return
	}
	if ids == nil {
		ids = []model.Identifier{}
	}

	writeJSON(w, http.StatusOK, ids)
}

// Reconciliation handles GET /reconciliation
func (h *TicketHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile(r.Context())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusServiceUnavailable, "capacity ledger not initialised")
			return
		}
		writeInternal(w, r, err, "failed to reconcile")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
