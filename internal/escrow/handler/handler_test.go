package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"lifeline/internal/escrow/models"
	escrowservice "lifeline/internal/escrow/service"
	escrowstore "lifeline/internal/escrow/store"
	"lifeline/internal/ledger"
	id "lifeline/pkg/domain"
	authmw "lifeline/pkg/platform/middleware/auth"
	"lifeline/pkg/testutil"
)

const adminToken = "test-admin-token"

// stubValidator maps bearer tokens to fixed claims.
type stubValidator struct {
	claims map[string]*authmw.JWTClaims
}

func (v *stubValidator) ValidateToken(token string) (*authmw.JWTClaims, error) {
	claims, ok := v.claims[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return claims, nil
}

type EscrowHandlerSuite struct {
	suite.Suite
	now       time.Time
	ledger    *ledger.Memory
	svc       *escrowservice.Service
	router    chi.Router
	validator *stubValidator

	patient  id.SignerID
	sponsor  id.SignerID
	provider id.SignerID
	releaser id.SignerID
}

func (s *EscrowHandlerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.ledger = ledger.NewMemory()
	s.svc = escrowservice.New(escrowstore.NewInMemory(), s.ledger,
		escrowservice.WithLogger(slog.Default()),
	)

	s.patient = id.SignerID(uuid.New())
	s.sponsor = id.SignerID(uuid.New())
	s.provider = id.SignerID(uuid.New())
	s.releaser = id.SignerID(uuid.New())

	s.validator = &stubValidator{claims: map[string]*authmw.JWTClaims{
		"sponsor-token":  {SignerID: s.sponsor.String(), Role: "sponsor"},
		"provider-token": {SignerID: s.provider.String(), Role: "provider"},
		"releaser-token": {SignerID: s.releaser.String(), Role: "admin"},
	}}

	s.router = chi.NewRouter()
	New(s.svc, slog.Default(), s.validator, adminToken).Register(s.router)

	ctx := context.Background()
	for _, signer := range []id.SignerID{s.patient, s.sponsor} {
		s.Require().NoError(s.ledger.CreateAccount(ctx, ledger.SignerAccount(signer), ledger.SignerAuthority(signer)))
	}
	s.Require().NoError(s.ledger.Mint(ctx, ledger.SignerAccount(s.sponsor), 1000))
}

func TestEscrowHandlerSuite(t *testing.T) {
	suite.Run(t, new(EscrowHandlerSuite))
}

// createEscrow seeds one escrow with a provider-verified milestone.
func (s *EscrowHandlerSuite) createEscrow() id.TreatmentID {
	treatmentID := id.TreatmentID(uuid.New())
	milestone, err := models.NewMilestoneRelease(0, 100, []models.VerificationRequirement{
		{Type: id.VerificationHealthcareProvider, Mandatory: true},
	})
	s.Require().NoError(err)
	_, err = s.svc.Create(context.Background(), treatmentID, s.patient, []models.MilestoneRelease{milestone})
	s.Require().NoError(err)
	return treatmentID
}

func (s *EscrowHandlerSuite) do(req *http.Request, token string) *http.Response {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(s.router, req).Result()
}

// TestAuth verifies the bearer-token gate on escrow routes.
func (s *EscrowHandlerSuite) TestAuth() {
	treatmentID := s.createEscrow()
	base := "/treatments/" + treatmentID.String() + "/escrow"

	s.Run("missing token is unauthorized", func() {
		resp := s.do(testutil.NewRequest(s.T(), http.MethodGet, base+"/"), "")
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("unknown token is unauthorized", func() {
		resp := s.do(testutil.NewRequest(s.T(), http.MethodGet, base+"/"), "bogus")
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("valid token passes", func() {
		resp := s.do(testutil.NewRequest(s.T(), http.MethodGet, base+"/"), "sponsor-token")
		s.Equal(http.StatusOK, resp.StatusCode)
	})
}

// TestFund verifies the deposit endpoint.
func (s *EscrowHandlerSuite) TestFund() {
	s.Run("deposits under the signer's authority", func() {
		treatmentID := s.createEscrow()
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/treatments/"+treatmentID.String()+"/escrow/fund", FundRequest{Amount: 60})
		rr := testutil.DoRequest(s.router, s.authorize(req, "sponsor-token"))

		testutil.AssertStatusOK(s.T(), rr)
		summary := testutil.UnmarshalResponse[models.Summary](s.T(), rr)
		s.Equal(id.Amount(60), summary.TotalAmount)
	})

	s.Run("insufficient sponsor funds are a policy rejection", func() {
		treatmentID := s.createEscrow()
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/treatments/"+treatmentID.String()+"/escrow/fund", FundRequest{Amount: 5000})
		rr := testutil.DoRequest(s.router, s.authorize(req, "sponsor-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "policy_violation")
	})

	s.Run("malformed treatment id is a bad request", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/treatments/not-a-uuid/escrow/fund", FundRequest{Amount: 10})
		rr := testutil.DoRequest(s.router, s.authorize(req, "sponsor-token"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("unknown treatment is not found", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/treatments/"+uuid.NewString()+"/escrow/fund", FundRequest{Amount: 10})
		rr := testutil.DoRequest(s.router, s.authorize(req, "sponsor-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}

func (s *EscrowHandlerSuite) authorize(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// fund seeds the vault through the HTTP surface.
func (s *EscrowHandlerSuite) fund(treatmentID id.TreatmentID, amount uint64) {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/treatments/"+treatmentID.String()+"/escrow/fund", FundRequest{Amount: amount})
	rr := testutil.DoRequest(s.router, s.authorize(req, "sponsor-token"))
	testutil.AssertStatusOK(s.T(), rr)
}

// verify submits provider evidence through the HTTP surface.
func (s *EscrowHandlerSuite) verify(treatmentID id.TreatmentID, proof string) {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/treatments/"+treatmentID.String()+"/escrow/milestones/0/verifications",
		SubmitVerificationRequest{Type: "healthcare_provider", Proof: proof})
	rr := testutil.DoRequest(s.router, s.authorize(req, "provider-token"))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
}

// TestVerifications verifies the evidence intake endpoint.
func (s *EscrowHandlerSuite) TestVerifications() {
	s.Run("provider evidence is recorded", func() {
		treatmentID := s.createEscrow()
		s.verify(treatmentID, "proof-h1")
	})

	s.Run("disallowed role is forbidden", func() {
		treatmentID := s.createEscrow()
		req := testutil.NewJSONRequest(s.T(), http.MethodPost,
			"/treatments/"+treatmentID.String()+"/escrow/milestones/0/verifications",
			SubmitVerificationRequest{Type: "healthcare_provider", Proof: "proof-h2"})
		rr := testutil.DoRequest(s.router, s.authorize(req, "sponsor-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("unsupported type is invalid input", func() {
		treatmentID := s.createEscrow()
		req := testutil.NewJSONRequest(s.T(), http.MethodPost,
			"/treatments/"+treatmentID.String()+"/escrow/milestones/0/verifications",
			SubmitVerificationRequest{Type: "notarized_letter", Proof: "proof-h3"})
		rr := testutil.DoRequest(s.router, s.authorize(req, "provider-token"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("milestone id outside uint8 is rejected", func() {
		treatmentID := s.createEscrow()
		req := testutil.NewJSONRequest(s.T(), http.MethodPost,
			"/treatments/"+treatmentID.String()+"/escrow/milestones/300/verifications",
			SubmitVerificationRequest{Type: "healthcare_provider", Proof: "proof-h4"})
		rr := testutil.DoRequest(s.router, s.authorize(req, "provider-token"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

// TestEligibilityAndRelease verifies the read-then-release endpoints.
func (s *EscrowHandlerSuite) TestEligibilityAndRelease() {
	s.Run("eligibility reflects missing verification", func() {
		treatmentID := s.createEscrow()
		s.fund(treatmentID, 100)

		rr := testutil.DoRequest(s.router, s.authorize(
			testutil.NewRequest(s.T(), http.MethodGet, "/treatments/"+treatmentID.String()+"/escrow/milestones/0/eligibility"),
			"sponsor-token"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[EligibilityResponse](s.T(), rr)
		s.False(resp.Eligible)
		s.NotEmpty(resp.Reason)
	})

	s.Run("release pays out once and conflicts after", func() {
		treatmentID := s.createEscrow()
		s.fund(treatmentID, 100)
		s.verify(treatmentID, "proof-r1")

		req := testutil.NewRequest(s.T(), http.MethodPost, "/treatments/"+treatmentID.String()+"/escrow/milestones/0/release")
		rr := testutil.DoRequest(s.router, s.authorize(req, "provider-token"))
		testutil.AssertStatusOK(s.T(), rr)
		summary := testutil.UnmarshalResponse[models.Summary](s.T(), rr)
		s.True(summary.AllReleased)

		req = testutil.NewRequest(s.T(), http.MethodPost, "/treatments/"+treatmentID.String()+"/escrow/milestones/0/release")
		rr = testutil.DoRequest(s.router, s.authorize(req, "provider-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})
}

// TestEmergency verifies the admin gate and the override endpoints.
func (s *EscrowHandlerSuite) TestEmergency() {
	configure := func(treatmentID id.TreatmentID, token string, adminHeader string) *http.Response {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost,
			"/treatments/"+treatmentID.String()+"/escrow/emergency/config",
			ConfigureEmergencyRequest{Releasers: []string{s.releaser.String()}, DelaySeconds: 3600})
		if adminHeader != "" {
			req.Header.Set("X-Admin-Token", adminHeader)
		}
		return s.do(req, token)
	}

	s.Run("configuration requires the admin token", func() {
		treatmentID := s.createEscrow()
		resp := configure(treatmentID, "", "")
		s.Equal(http.StatusUnauthorized, resp.StatusCode)

		resp = configure(treatmentID, "", "wrong-token")
		s.Equal(http.StatusUnauthorized, resp.StatusCode)

		resp = configure(treatmentID, "", adminToken)
		s.Equal(http.StatusOK, resp.StatusCode)
	})

	s.Run("initiate then execute after the delay", func() {
		treatmentID := s.createEscrow()
		s.fund(treatmentID, 100)
		resp := configure(treatmentID, "", adminToken)
		s.Require().Equal(http.StatusOK, resp.StatusCode)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost,
			"/treatments/"+treatmentID.String()+"/escrow/emergency/initiate",
			InitiateEmergencyRequest{Reason: "facility unreachable"})
		rr := testutil.DoRequest(s.router, s.authorize(req, "releaser-token"))
		testutil.AssertStatusOK(s.T(), rr)

		// Too early: the delay clock started at the initiation request.
		req = testutil.NewRequest(s.T(), http.MethodPost, "/treatments/"+treatmentID.String()+"/escrow/emergency/execute")
		rr = testutil.DoRequest(s.router, s.authorize(req, "releaser-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "policy_violation")
	})

	s.Run("unauthorized releaser cannot initiate", func() {
		treatmentID := s.createEscrow()
		resp := configure(treatmentID, "", adminToken)
		s.Require().Equal(http.StatusOK, resp.StatusCode)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost,
			"/treatments/"+treatmentID.String()+"/escrow/emergency/initiate",
			InitiateEmergencyRequest{Reason: "impatient sponsor"})
		rr := testutil.DoRequest(s.router, s.authorize(req, "sponsor-token"))
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})
}
