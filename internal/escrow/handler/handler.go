// Package handler exposes the escrow engine over HTTP. All routes sit
// behind JWT auth; emergency configuration additionally requires the
// admin token.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lifeline/internal/escrow/models"
	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
	"lifeline/pkg/platform/httputil"
	adminmw "lifeline/pkg/platform/middleware/admin"
	authmw "lifeline/pkg/platform/middleware/auth"
	request "lifeline/pkg/platform/middleware/request"
	strutil "lifeline/pkg/platform/strings"
	"lifeline/pkg/requestcontext"
)

// Service defines the escrow operations the HTTP surface needs.
type Service interface {
	Fund(ctx context.Context, treatmentID id.TreatmentID, sponsor id.SignerID, amount id.Amount) (*models.Escrow, error)
	SubmitVerification(ctx context.Context, treatmentID id.TreatmentID, milestoneID id.MilestoneID, vType id.VerificationType, evidenceHash, proof string) (*models.Escrow, error)
	CanRelease(ctx context.Context, treatmentID id.TreatmentID, milestoneID id.MilestoneID) error
	Release(ctx context.Context, treatmentID id.TreatmentID, milestoneID id.MilestoneID) (*models.Escrow, error)
	ConfigureEmergency(ctx context.Context, treatmentID id.TreatmentID, releasers []id.SignerID, delaySeconds int64) (*models.Escrow, error)
	InitiateEmergency(ctx context.Context, treatmentID id.TreatmentID, reason string) (*models.Escrow, error)
	ExecuteEmergency(ctx context.Context, treatmentID id.TreatmentID) (*models.Escrow, error)
	Summary(ctx context.Context, treatmentID id.TreatmentID) (models.Summary, error)
}

// Handler handles escrow endpoints.
type Handler struct {
	escrow       Service
	logger       *slog.Logger
	jwtValidator authmw.JWTValidator
	adminToken   string
}

// New creates an escrow Handler.
func New(escrow Service, logger *slog.Logger, jwtValidator authmw.JWTValidator, adminToken string) *Handler {
	return &Handler{
		escrow:       escrow,
		logger:       logger,
		jwtValidator: jwtValidator,
		adminToken:   adminToken,
	}
}

// Register mounts the escrow routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/treatments/{treatmentID}/escrow", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireAuth(h.jwtValidator, h.logger))
			r.Get("/", h.handleSummary)
			r.Post("/fund", h.handleFund)
			r.Post("/milestones/{milestoneID}/verifications", h.handleSubmitVerification)
			r.Get("/milestones/{milestoneID}/eligibility", h.handleEligibility)
			r.Post("/milestones/{milestoneID}/release", h.handleRelease)
			r.Post("/emergency/initiate", h.handleInitiateEmergency)
			r.Post("/emergency/execute", h.handleExecuteEmergency)
		})
		r.Group(func(r chi.Router) {
			r.Use(adminmw.RequireAdminToken(h.adminToken, h.logger))
			r.Post("/emergency/config", h.handleConfigureEmergency)
		})
	})
}

func (h *Handler) treatmentID(w http.ResponseWriter, r *http.Request) (id.TreatmentID, bool) {
	treatmentID, err := id.ParseTreatmentID(chi.URLParam(r, "treatmentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.TreatmentID{}, false
	}
	return treatmentID, true
}

func (h *Handler) milestoneID(w http.ResponseWriter, r *http.Request) (id.MilestoneID, bool) {
	raw := chi.URLParam(r, "milestoneID")
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "milestone id must be an integer in [0,255]"))
		return 0, false
	}
	return id.MilestoneID(n), true
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}
	summary, err := h.escrow.Summary(r.Context(), treatmentID)
	if err != nil {
		h.writeServiceError(w, r, "escrow summary failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}

	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	sponsor := requestcontext.SignerID(ctx)
	escrow, err := h.escrow.Fund(ctx, treatmentID, sponsor, id.Amount(req.Amount))
	if err != nil {
		h.writeServiceError(w, r, "escrow fund failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, escrow.Summarize())
}

func (h *Handler) handleSubmitVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}
	milestoneID, ok := h.milestoneID(w, r)
	if !ok {
		return
	}

	var req SubmitVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	vType, err := id.ParseVerificationType(req.Type)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	escrow, err := h.escrow.SubmitVerification(ctx, treatmentID, milestoneID, vType, req.EvidenceHash, req.Proof)
	if err != nil {
		h.writeServiceError(w, r, "verification submission failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, escrow.Summarize())
}

func (h *Handler) handleEligibility(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}
	milestoneID, ok := h.milestoneID(w, r)
	if !ok {
		return
	}

	resp := EligibilityResponse{MilestoneID: uint8(milestoneID), Eligible: true}
	if err := h.escrow.CanRelease(r.Context(), treatmentID, milestoneID); err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.CodeOf(err) == "" {
			h.writeServiceError(w, r, "eligibility check failed", err)
			return
		}
		resp.Eligible = false
		resp.Reason = err.Error()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}
	milestoneID, ok := h.milestoneID(w, r)
	if !ok {
		return
	}

	escrow, err := h.escrow.Release(r.Context(), treatmentID, milestoneID)
	if err != nil {
		h.writeServiceError(w, r, "milestone release failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, escrow.Summarize())
}

func (h *Handler) handleConfigureEmergency(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}

	var req ConfigureEmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	raws := strutil.DedupeAndTrim(req.Releasers)
	releasers := make([]id.SignerID, 0, len(raws))
	for _, raw := range raws {
		signer, err := id.ParseSignerID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		releasers = append(releasers, signer)
	}

	escrow, err := h.escrow.ConfigureEmergency(r.Context(), treatmentID, releasers, req.DelaySeconds)
	if err != nil {
		h.writeServiceError(w, r, "emergency configuration failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, escrow.Summarize())
}

func (h *Handler) handleInitiateEmergency(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}

	var req InitiateEmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	escrow, err := h.escrow.InitiateEmergency(r.Context(), treatmentID, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "emergency initiation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, escrow.Summarize())
}

func (h *Handler) handleExecuteEmergency(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}

	escrow, err := h.escrow.ExecuteEmergency(r.Context(), treatmentID)
	if err != nil {
		h.writeServiceError(w, r, "emergency execution failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, escrow.Summarize())
}

// writeServiceError logs and renders a service failure. Domain errors
// keep their code; anything uncoded is logged as an internal failure.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	code := dErrors.CodeOf(err)
	if code == "" || code == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, msg))
		return
	}
	h.logger.WarnContext(ctx, msg,
		"request_id", request.GetRequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}
