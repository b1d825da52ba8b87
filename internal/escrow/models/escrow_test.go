package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
)

type EscrowSuite struct {
	suite.Suite
	now      time.Time
	patient  id.SignerID
	provider id.SignerID
}

func (s *EscrowSuite) SetupTest() {
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.patient = id.SignerID(uuid.New())
	s.provider = id.SignerID(uuid.New())
}

func TestEscrowSuite(t *testing.T) {
	suite.Run(t, new(EscrowSuite))
}

func (s *EscrowSuite) milestone(num id.MilestoneID, amount id.Amount, reqs ...VerificationRequirement) MilestoneRelease {
	m, err := NewMilestoneRelease(num, amount, reqs)
	s.Require().NoError(err)
	return m
}

func (s *EscrowSuite) newEscrow(milestones ...MilestoneRelease) *Escrow {
	e, err := NewEscrow(id.TreatmentID(uuid.New()), s.patient, milestones, s.now)
	s.Require().NoError(err)
	return e
}

// mandatory returns a mandatory provider-verification requirement.
func mandatory(vType id.VerificationType) VerificationRequirement {
	return VerificationRequirement{Type: vType, Mandatory: true}
}

func (s *EscrowSuite) verification(verifier id.SignerID, vType id.VerificationType) ReceivedVerification {
	return ReceivedVerification{
		Verifier:   verifier,
		Type:       vType,
		VerifiedAt: s.now,
		Proof:      "proof-" + uuid.NewString(),
	}
}

// TestConstruction verifies the creation guards.
func (s *EscrowSuite) TestConstruction() {
	s.Run("rejects nil treatment id", func() {
		_, err := NewEscrow(id.TreatmentID{}, s.patient, []MilestoneRelease{s.milestone(0, 100)}, s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("rejects nil beneficiary", func() {
		_, err := NewEscrow(id.TreatmentID(uuid.New()), id.SignerID{}, []MilestoneRelease{s.milestone(0, 100)}, s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("rejects empty milestone list", func() {
		_, err := NewEscrow(id.TreatmentID(uuid.New()), s.patient, nil, s.now)
		s.Require().Error(err)
	})

	s.Run("rejects duplicate milestone ids", func() {
		_, err := NewEscrow(id.TreatmentID(uuid.New()), s.patient,
			[]MilestoneRelease{s.milestone(1, 100), s.milestone(1, 200)}, s.now)
		s.Require().Error(err)
	})

	s.Run("rejects more than MaxMilestones", func() {
		milestones := make([]MilestoneRelease, 0, MaxMilestones+1)
		for i := 0; i <= MaxMilestones; i++ {
			milestones = append(milestones, s.milestone(id.MilestoneID(i), 10))
		}
		_, err := NewEscrow(id.TreatmentID(uuid.New()), s.patient, milestones, s.now)
		s.Require().ErrorIs(err, ErrCapacityExceeded)
	})

	s.Run("rejects zero milestone amount", func() {
		_, err := NewMilestoneRelease(0, 0, nil)
		s.Require().Error(err)
	})

	s.Run("new escrow starts active with nothing released", func() {
		e := s.newEscrow(s.milestone(0, 100))
		s.True(e.IsActive)
		s.Equal(id.Amount(0), e.TotalAmount)
		s.Equal(id.Amount(0), e.ReleasedAmount)
		s.False(e.Emergency.Enabled)
		s.Equal(int64(DefaultEmergencyDelaySeconds), e.Emergency.DelaySeconds)
	})
}

// TestFunding verifies checked fund accumulation.
func (s *EscrowSuite) TestFunding() {
	s.Run("accumulates deposits", func() {
		e := s.newEscrow(s.milestone(0, 100))
		s.Require().NoError(e.AddFunds(40, s.now))
		s.Require().NoError(e.AddFunds(60, s.now))
		s.Equal(id.Amount(100), e.TotalAmount)
	})

	s.Run("overflow aborts with no partial mutation", func() {
		e := s.newEscrow(s.milestone(0, 100))
		s.Require().NoError(e.AddFunds(1<<63, s.now))
		err := e.AddFunds(1<<63, s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeArithmetic))
		s.Equal(id.Amount(1<<63), e.TotalAmount)
	})

	s.Run("inactive escrow rejects deposits", func() {
		e := s.newEscrow(s.milestone(0, 100))
		e.Deactivate(s.now)
		s.Require().ErrorIs(e.AddFunds(10, s.now), ErrEscrowInactive)
	})
}

// TestVerificationIntake verifies the append-only evidence log.
func (s *EscrowSuite) TestVerificationIntake() {
	s.Run("appends evidence without overwriting", func() {
		e := s.newEscrow(s.milestone(0, 100, mandatory(id.VerificationHealthcareProvider)))
		s.Require().NoError(e.AddVerification(0, s.verification(s.provider, id.VerificationHealthcareProvider)))
		s.Require().NoError(e.AddVerification(0, s.verification(s.provider, id.VerificationHealthcareProvider)))
		s.Len(e.Milestones[0].Received, 2)
	})

	s.Run("unknown milestone rejected", func() {
		e := s.newEscrow(s.milestone(0, 100))
		err := e.AddVerification(7, s.verification(s.provider, id.VerificationHealthcareProvider))
		s.Require().ErrorIs(err, ErrMilestoneNotFound)
	})

	s.Run("no late evidence after release", func() {
		e := s.newEscrow(s.milestone(0, 100))
		s.Require().NoError(e.AddFunds(100, s.now))
		_, err := e.ApplyRelease(0, s.now)
		s.Require().NoError(err)

		err = e.AddVerification(0, s.verification(s.provider, id.VerificationHealthcareProvider))
		s.Require().ErrorIs(err, ErrMilestoneAlreadyReleased)
	})

	s.Run("per-milestone capacity enforced", func() {
		e := s.newEscrow(s.milestone(0, 100))
		for i := 0; i < MaxVerificationsPerMilestone; i++ {
			s.Require().NoError(e.AddVerification(0, s.verification(s.provider, id.VerificationHealthcareProvider)))
		}
		err := e.AddVerification(0, s.verification(s.provider, id.VerificationHealthcareProvider))
		s.Require().ErrorIs(err, ErrCapacityExceeded)
	})
}

// TestEligibility verifies the release predicate.
func (s *EscrowSuite) TestEligibility() {
	s.Run("mandatory requirement blocks until satisfied", func() {
		e := s.newEscrow(s.milestone(0, 100, mandatory(id.VerificationHealthcareProvider)))
		s.Require().NoError(e.AddFunds(100, s.now))

		s.Require().ErrorIs(e.CanRelease(0), ErrVerificationIncomplete)

		s.Require().NoError(e.AddVerification(0, s.verification(s.provider, id.VerificationHealthcareProvider)))
		s.Require().NoError(e.CanRelease(0))
	})

	s.Run("optional requirement never blocks", func() {
		e := s.newEscrow(s.milestone(0, 100,
			mandatory(id.VerificationHealthcareProvider),
			VerificationRequirement{Type: id.VerificationCommunityWitness, Mandatory: false},
		))
		s.Require().NoError(e.AddFunds(100, s.now))
		s.Require().NoError(e.AddVerification(0, s.verification(s.provider, id.VerificationHealthcareProvider)))
		s.Require().NoError(e.CanRelease(0))
	})

	s.Run("pinned verifier requirement ignores other verifiers", func() {
		pinned := id.SignerID(uuid.New())
		e := s.newEscrow(s.milestone(0, 100, VerificationRequirement{
			Type:             id.VerificationThirdPartyMedical,
			RequiredVerifier: &pinned,
			Mandatory:        true,
		}))
		s.Require().NoError(e.AddFunds(100, s.now))

		s.Require().NoError(e.AddVerification(0, s.verification(s.provider, id.VerificationThirdPartyMedical)))
		s.Require().ErrorIs(e.CanRelease(0), ErrVerificationIncomplete)

		s.Require().NoError(e.AddVerification(0, s.verification(pinned, id.VerificationThirdPartyMedical)))
		s.Require().NoError(e.CanRelease(0))
	})

	s.Run("wrong verification type does not satisfy", func() {
		e := s.newEscrow(s.milestone(0, 100, mandatory(id.VerificationHealthcareProvider)))
		s.Require().NoError(e.AddFunds(100, s.now))
		s.Require().NoError(e.AddVerification(0, s.verification(s.provider, id.VerificationCommunityWitness)))
		s.Require().ErrorIs(e.CanRelease(0), ErrVerificationIncomplete)
	})
}

// TestRelease verifies exactly-once release and conservation.
func (s *EscrowSuite) TestRelease() {
	s.Run("release is exactly once", func() {
		e := s.newEscrow(s.milestone(0, 100))
		s.Require().NoError(e.AddFunds(100, s.now))

		amount, err := e.ApplyRelease(0, s.now)
		s.Require().NoError(err)
		s.Equal(id.Amount(100), amount)
		s.Equal(id.Amount(100), e.ReleasedAmount)

		_, err = e.ApplyRelease(0, s.now)
		s.Require().ErrorIs(err, ErrMilestoneAlreadyReleased)
		s.Equal(id.Amount(100), e.ReleasedAmount)
	})

	s.Run("released never exceeds total", func() {
		e := s.newEscrow(s.milestone(0, 100))
		s.Require().NoError(e.AddFunds(60, s.now))
		_, err := e.ApplyRelease(0, s.now)
		s.Require().ErrorIs(err, ErrInsufficientEscrowFunds)
		s.False(e.Milestones[0].IsReleased)
		s.Equal(id.Amount(0), e.ReleasedAmount)
	})

	s.Run("fund then release both milestones", func() {
		// 40/60 split, fully funded, released one at a time.
		e := s.newEscrow(s.milestone(0, 40), s.milestone(1, 60))
		s.Require().NoError(e.AddFunds(100, s.now))

		amount, err := e.ApplyRelease(0, s.now)
		s.Require().NoError(err)
		s.Equal(id.Amount(40), amount)
		s.False(e.AllReleased())
		s.Equal(id.Amount(60), e.Remaining())

		amount, err = e.ApplyRelease(1, s.now)
		s.Require().NoError(err)
		s.Equal(id.Amount(60), amount)
		s.True(e.AllReleased())
		s.Equal(id.Amount(0), e.Remaining())
	})

	s.Run("release stamps the milestone timestamp", func() {
		e := s.newEscrow(s.milestone(0, 100))
		s.Require().NoError(e.AddFunds(100, s.now))
		_, err := e.ApplyRelease(0, s.now)
		s.Require().NoError(err)
		s.Require().NotNil(e.Milestones[0].ReleaseTimestamp)
		s.Equal(s.now, *e.Milestones[0].ReleaseTimestamp)
	})

	s.Run("inactive escrow rejects release", func() {
		e := s.newEscrow(s.milestone(0, 100))
		s.Require().NoError(e.AddFunds(100, s.now))
		e.Deactivate(s.now)
		_, err := e.ApplyRelease(0, s.now)
		s.Require().ErrorIs(err, ErrEscrowInactive)
	})
}

// TestEmergency verifies the time-delayed override lifecycle.
func (s *EscrowSuite) TestEmergency() {
	releaser := id.SignerID(uuid.New())

	configure := func(e *Escrow, delay int64) {
		s.Require().NoError(e.ConfigureEmergency([]id.SignerID{releaser}, delay, s.now))
	}

	s.Run("initiate requires configuration", func() {
		e := s.newEscrow(s.milestone(0, 100))
		s.Require().ErrorIs(e.CanInitiateEmergency(releaser), ErrEmergencyDisabled)
	})

	s.Run("only authorized releasers may initiate", func() {
		e := s.newEscrow(s.milestone(0, 100))
		configure(e, 3600)
		s.Require().ErrorIs(e.CanInitiateEmergency(id.SignerID(uuid.New())), ErrEmergencyNotAuthorized)
		s.Require().NoError(e.CanInitiateEmergency(releaser))
	})

	s.Run("execute before initiation rejected", func() {
		e := s.newEscrow(s.milestone(0, 100))
		configure(e, 3600)
		s.Require().ErrorIs(e.CanExecuteEmergency(releaser, s.now), ErrEmergencyNotInitiated)
	})

	s.Run("execute before the delay elapses rejected", func() {
		e := s.newEscrow(s.milestone(0, 100))
		configure(e, 3600)
		s.Require().NoError(e.ApplyInitiateEmergency(releaser, "facility unreachable", s.now))

		s.Require().ErrorIs(e.CanExecuteEmergency(releaser, s.now.Add(time.Hour-time.Second)), ErrEmergencyTooEarly)
		s.Require().NoError(e.CanExecuteEmergency(releaser, s.now.Add(time.Hour)))
	})

	s.Run("execution releases remaining balance and deactivates", func() {
		e := s.newEscrow(s.milestone(0, 40), s.milestone(1, 60))
		s.Require().NoError(e.AddFunds(100, s.now))
		_, err := e.ApplyRelease(0, s.now)
		s.Require().NoError(err)

		configure(e, 3600)
		s.Require().NoError(e.ApplyInitiateEmergency(releaser, "facility unreachable", s.now))

		amount, err := e.ApplyExecuteEmergency(releaser, s.now.Add(2*time.Hour))
		s.Require().NoError(err)
		s.Equal(id.Amount(60), amount)
		s.Equal(id.Amount(100), e.ReleasedAmount)
		s.False(e.IsActive)

		// Irreversible: nothing works afterwards.
		s.Require().ErrorIs(e.AddFunds(1, s.now), ErrEscrowInactive)
		_, err = e.ApplyExecuteEmergency(releaser, s.now.Add(3*time.Hour))
		s.Require().ErrorIs(err, ErrEscrowInactive)
	})

	s.Run("re-initiation restarts the delay window", func() {
		e := s.newEscrow(s.milestone(0, 100))
		configure(e, 3600)
		s.Require().NoError(e.ApplyInitiateEmergency(releaser, "first", s.now))
		s.Require().NoError(e.ApplyInitiateEmergency(releaser, "second", s.now.Add(30*time.Minute)))

		s.Require().ErrorIs(e.CanExecuteEmergency(releaser, s.now.Add(time.Hour)), ErrEmergencyTooEarly)
		s.Require().NoError(e.CanExecuteEmergency(releaser, s.now.Add(90*time.Minute)))
	})

	s.Run("releaser set capacity enforced", func() {
		e := s.newEscrow(s.milestone(0, 100))
		releasers := make([]id.SignerID, 0, MaxEmergencyReleasers+1)
		for i := 0; i <= MaxEmergencyReleasers; i++ {
			releasers = append(releasers, id.SignerID(uuid.New()))
		}
		s.Require().ErrorIs(e.ConfigureEmergency(releasers, 3600, s.now), ErrCapacityExceeded)
	})
}

// TestSummarize verifies the computed read model.
func (s *EscrowSuite) TestSummarize() {
	e := s.newEscrow(
		s.milestone(0, 40),
		s.milestone(1, 60, mandatory(id.VerificationHealthcareProvider)),
	)
	s.Require().NoError(e.AddFunds(100, s.now))
	s.Require().NoError(e.AddVerification(1, s.verification(s.provider, id.VerificationHealthcareProvider)))
	_, err := e.ApplyRelease(0, s.now)
	s.Require().NoError(err)

	summary := e.Summarize()
	s.Equal(id.Amount(100), summary.TotalAmount)
	s.Equal(id.Amount(40), summary.ReleasedAmount)
	s.False(summary.AllReleased)
	s.Require().Len(summary.Milestones, 2)

	s.Equal(MilestoneStatusReleased, summary.Milestones[0].Status)
	s.False(summary.Milestones[0].Eligible)

	s.Equal(MilestoneStatusAwaitingVerification, summary.Milestones[1].Status)
	s.True(summary.Milestones[1].Eligible)
	s.Equal(1, summary.Milestones[1].Verifications)
}

// TestClone verifies the deep copy used by copy-on-write stores.
func (s *EscrowSuite) TestClone() {
	e := s.newEscrow(s.milestone(0, 100, mandatory(id.VerificationHealthcareProvider)))
	s.Require().NoError(e.AddFunds(100, s.now))
	s.Require().NoError(e.AddVerification(0, s.verification(s.provider, id.VerificationHealthcareProvider)))

	clone := e.Clone()
	s.Require().NoError(clone.AddVerification(0, s.verification(s.provider, id.VerificationHealthcareProvider)))
	clone.TotalAmount = 999

	s.Len(e.Milestones[0].Received, 1)
	s.Equal(id.Amount(100), e.TotalAmount)
}
