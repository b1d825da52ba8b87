// Package handler exposes the treatment registry over HTTP. All routes
// sit behind JWT auth; cancellation additionally requires the admin
// token because it freezes the escrow.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	escrowmodels "lifeline/internal/escrow/models"
	"lifeline/internal/treatment/models"
	"lifeline/internal/treatment/service"
	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
	"lifeline/pkg/platform/httputil"
	adminmw "lifeline/pkg/platform/middleware/admin"
	authmw "lifeline/pkg/platform/middleware/auth"
	request "lifeline/pkg/platform/middleware/request"
)

// Service defines the registry operations the HTTP surface needs.
type Service interface {
	Create(ctx context.Context, patient, facility id.SignerID, description string, fundingTarget id.Amount, milestones []models.MilestoneDefinition) (*models.Treatment, error)
	RecordSponsorship(ctx context.Context, treatmentID id.TreatmentID, amount id.Amount) (*models.Treatment, error)
	Begin(ctx context.Context, treatmentID id.TreatmentID) (*models.Treatment, error)
	Pause(ctx context.Context, treatmentID id.TreatmentID) (*models.Treatment, error)
	Resume(ctx context.Context, treatmentID id.TreatmentID) (*models.Treatment, error)
	Cancel(ctx context.Context, treatmentID id.TreatmentID, reason string) (*models.Treatment, error)
	ReportOutcome(ctx context.Context, treatmentID id.TreatmentID, report models.OutcomeReport) (*models.Treatment, error)
	Get(ctx context.Context, treatmentID id.TreatmentID) (*service.TreatmentDetails, error)
	List(ctx context.Context) ([]*models.Treatment, error)
}

// Handler handles treatment registry endpoints.
type Handler struct {
	treatments   Service
	logger       *slog.Logger
	jwtValidator authmw.JWTValidator
	adminToken   string
}

// New creates a treatment Handler.
func New(treatments Service, logger *slog.Logger, jwtValidator authmw.JWTValidator, adminToken string) *Handler {
	return &Handler{
		treatments:   treatments,
		logger:       logger,
		jwtValidator: jwtValidator,
		adminToken:   adminToken,
	}
}

// Register mounts the treatment routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/treatments", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireAuth(h.jwtValidator, h.logger))
			r.Post("/", h.handleCreate)
			r.Get("/", h.handleList)
			r.Get("/{treatmentID}", h.handleGet)
			r.Post("/{treatmentID}/sponsorships", h.handleSponsorship)
			r.Post("/{treatmentID}/begin", h.handleBegin)
			r.Post("/{treatmentID}/pause", h.handlePause)
			r.Post("/{treatmentID}/resume", h.handleResume)
			r.Post("/{treatmentID}/outcome", h.handleOutcome)
		})
		r.Group(func(r chi.Router) {
			r.Use(adminmw.RequireAdminToken(h.adminToken, h.logger))
			r.Post("/{treatmentID}/cancel", h.handleCancel)
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

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	patient, err := id.ParseSignerID(req.Patient)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	facility, err := id.ParseSignerID(req.Facility)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	milestones, err := parseMilestones(req.Milestones)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	treatment, err := h.treatments.Create(ctx, patient, facility, req.Description, id.Amount(req.FundingTarget), milestones)
	if err != nil {
		h.writeServiceError(w, r, "treatment creation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, treatment)
}

func parseMilestones(reqs []MilestoneDefinitionRequest) ([]models.MilestoneDefinition, error) {
	milestones := make([]models.MilestoneDefinition, 0, len(reqs))
	for _, m := range reqs {
		requirements := make([]escrowmodels.VerificationRequirement, 0, len(m.Requirements))
		for _, req := range m.Requirements {
			vType, err := id.ParseVerificationType(req.Type)
			if err != nil {
				return nil, err
			}
			requirement := escrowmodels.VerificationRequirement{
				Type:      vType,
				Mandatory: req.Mandatory,
			}
			if req.RequiredVerifier != nil {
				verifier, err := id.ParseSignerID(*req.RequiredVerifier)
				if err != nil {
					return nil, err
				}
				requirement.RequiredVerifier = &verifier
			}
			requirements = append(requirements, requirement)
		}
		milestones = append(milestones, models.MilestoneDefinition{
			Number:        id.MilestoneID(m.Number),
			ReleaseAmount: id.Amount(m.ReleaseAmount),
			Requirements:  requirements,
		})
	}
	return milestones, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	treatments, err := h.treatments.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "treatment list failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, treatments)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}
	details, err := h.treatments.Get(r.Context(), treatmentID)
	if err != nil {
		h.writeServiceError(w, r, "treatment lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}

func (h *Handler) handleSponsorship(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}

	var req SponsorshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	treatment, err := h.treatments.RecordSponsorship(r.Context(), treatmentID, id.Amount(req.Amount))
	if err != nil {
		h.writeServiceError(w, r, "sponsorship failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, treatment)
}

func (h *Handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "treatment begin failed", h.treatments.Begin)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "treatment pause failed", h.treatments.Pause)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "treatment resume failed", h.treatments.Resume)
}

func (h *Handler) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	msg string,
	op func(context.Context, id.TreatmentID) (*models.Treatment, error),
) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}
	treatment, err := op(r.Context(), treatmentID)
	if err != nil {
		h.writeServiceError(w, r, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, treatment)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}

	var req CancelTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	treatment, err := h.treatments.Cancel(r.Context(), treatmentID, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "treatment cancellation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, treatment)
}

func (h *Handler) handleOutcome(w http.ResponseWriter, r *http.Request) {
	treatmentID, ok := h.treatmentID(w, r)
	if !ok {
		return
	}

	var req OutcomeReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	treatment, err := h.treatments.ReportOutcome(r.Context(), treatmentID, models.OutcomeReport{
		Summary:         req.Summary,
		Successful:      req.Successful,
		ResearchConsent: req.ResearchConsent,
	})
	if err != nil {
		h.writeServiceError(w, r, "outcome report failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, treatment)
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
