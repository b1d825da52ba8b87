package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
)

type TreatmentSuite struct {
	suite.Suite
	now      time.Time
	patient  id.SignerID
	facility id.SignerID
	sponsor  id.SignerID
}

func (s *TreatmentSuite) SetupTest() {
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.patient = id.SignerID(uuid.New())
	s.facility = id.SignerID(uuid.New())
	s.sponsor = id.SignerID(uuid.New())
}

func TestTreatmentSuite(t *testing.T) {
	suite.Run(t, new(TreatmentSuite))
}

func (s *TreatmentSuite) newTreatment(target id.Amount, milestones ...MilestoneDefinition) *Treatment {
	t, err := NewTreatment(id.NewTreatmentID(), s.patient, s.facility, "corrective surgery", target, milestones, s.now)
	s.Require().NoError(err)
	return t
}

func def(number id.MilestoneID, amount id.Amount) MilestoneDefinition {
	return MilestoneDefinition{Number: number, ReleaseAmount: amount}
}

// TestConstruction verifies the creation guards, in particular the strict
// milestone-sum equality.
func (s *TreatmentSuite) TestConstruction() {
	s.Run("builds a funding-phase treatment", func() {
		t := s.newTreatment(100, def(0, 40), def(1, 60))
		s.Equal(StatusFundingRequired, t.Status)
		s.Equal(id.Amount(100), t.Remaining())
		s.Empty(t.Sponsors)
	})

	s.Run("milestone sum below the target is rejected", func() {
		_, err := NewTreatment(id.NewTreatmentID(), s.patient, s.facility, "", 100, []MilestoneDefinition{def(0, 40)}, s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("milestone sum above the target is rejected", func() {
		_, err := NewTreatment(id.NewTreatmentID(), s.patient, s.facility, "", 100, []MilestoneDefinition{def(0, 40), def(1, 70)}, s.now)
		s.Require().Error(err)
	})

	s.Run("duplicate milestone numbers are rejected", func() {
		_, err := NewTreatment(id.NewTreatmentID(), s.patient, s.facility, "", 100, []MilestoneDefinition{def(1, 40), def(1, 60)}, s.now)
		s.Require().Error(err)
	})

	s.Run("zero target and empty milestones are rejected", func() {
		_, err := NewTreatment(id.NewTreatmentID(), s.patient, s.facility, "", 0, []MilestoneDefinition{def(0, 1)}, s.now)
		s.Require().Error(err)
		_, err = NewTreatment(id.NewTreatmentID(), s.patient, s.facility, "", 100, nil, s.now)
		s.Require().Error(err)
	})
}

// TestSponsorships verifies the funding guards and status advancement.
func (s *TreatmentSuite) TestSponsorships() {
	s.Run("partial funding advances the status", func() {
		t := s.newTreatment(100, def(0, 100))
		s.Require().NoError(t.ApplySponsorship(s.sponsor, 30, s.now))
		s.Equal(StatusPartiallyFunded, t.Status)
		s.Equal(id.Amount(70), t.Remaining())
		s.Len(t.Sponsors, 1)
	})

	s.Run("reaching the target flips to fully funded", func() {
		t := s.newTreatment(100, def(0, 100))
		s.Require().NoError(t.ApplySponsorship(s.sponsor, 30, s.now))
		s.Require().NoError(t.ApplySponsorship(s.sponsor, 70, s.now))
		s.Equal(StatusFullyFunded, t.Status)
		s.Equal(id.Amount(0), t.Remaining())
	})

	s.Run("overshooting the remaining target is rejected", func() {
		t := s.newTreatment(100, def(0, 100))
		s.Require().NoError(t.ApplySponsorship(s.sponsor, 90, s.now))
		err := t.CanRecordSponsorship(11)
		s.Require().ErrorIs(err, ErrExceedsFundingTarget)
		s.Equal(id.Amount(90), t.FundedAmount)
	})

	s.Run("no sponsorships outside the funding phase", func() {
		t := s.newTreatment(100, def(0, 100))
		s.Require().NoError(t.ApplySponsorship(s.sponsor, 100, s.now))
		err := t.CanRecordSponsorship(1)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("sponsor roll is bounded", func() {
		t := s.newTreatment(100, def(0, 100))
		for i := 0; i < MaxSponsors; i++ {
			s.Require().NoError(t.ApplySponsorship(id.SignerID(uuid.New()), 1, s.now))
		}
		s.Require().ErrorIs(t.CanRecordSponsorship(1), ErrSponsorCapacity)
	})

	s.Run("zero amount is rejected", func() {
		t := s.newTreatment(100, def(0, 100))
		s.Require().Error(t.CanRecordSponsorship(0))
	})
}

// TestStatusMachine verifies the explicit transition table.
func (s *TreatmentSuite) TestStatusMachine() {
	fullyFunded := func() *Treatment {
		t := s.newTreatment(100, def(0, 100))
		s.Require().NoError(t.ApplySponsorship(s.sponsor, 100, s.now))
		return t
	}

	s.Run("begin requires full funding", func() {
		t := s.newTreatment(100, def(0, 100))
		s.Require().Error(t.CanBegin())

		t = fullyFunded()
		s.Require().NoError(t.CanBegin())
		t.ApplyBegin(s.now)
		s.Equal(StatusTreatmentInProgress, t.Status)
	})

	s.Run("pause and resume round trip", func() {
		t := fullyFunded()
		t.ApplyBegin(s.now)
		s.Require().NoError(t.CanPause())
		t.ApplyPause(s.now)
		s.Equal(StatusTreatmentPaused, t.Status)

		s.Require().NoError(t.CanResume())
		t.ApplyResume(s.now)
		s.Equal(StatusTreatmentInProgress, t.Status)
	})

	s.Run("resume only from paused", func() {
		t := fullyFunded()
		s.Require().Error(t.CanResume())
	})

	s.Run("complete only from in progress", func() {
		t := fullyFunded()
		s.Require().Error(t.CanComplete())
		t.ApplyBegin(s.now)
		s.Require().NoError(t.CanComplete())
		t.ApplyComplete(s.now)
		s.True(t.Status.IsTerminal())
	})

	s.Run("cancel from any non-terminal state", func() {
		for _, build := range []func() *Treatment{
			func() *Treatment { return s.newTreatment(100, def(0, 100)) },
			fullyFunded,
			func() *Treatment { t := fullyFunded(); t.ApplyBegin(s.now); return t },
			func() *Treatment { t := fullyFunded(); t.ApplyBegin(s.now); t.ApplyPause(s.now); return t },
		} {
			t := build()
			s.Require().NoError(t.CanCancel())
			t.ApplyCancel(s.now)
			s.Equal(StatusTreatmentCancelled, t.Status)
		}
	})

	s.Run("terminal states have no outgoing edges", func() {
		t := fullyFunded()
		t.ApplyBegin(s.now)
		t.ApplyComplete(s.now)
		s.Require().Error(t.CanCancel())
		s.Require().Error(t.CanBegin())

		t = fullyFunded()
		t.ApplyCancel(s.now)
		s.Require().Error(t.CanComplete())
		s.Require().Error(t.CanCancel())
	})
}

// TestOutcomeReporting verifies the patient-only, once-only guards.
func (s *TreatmentSuite) TestOutcomeReporting() {
	completed := func() *Treatment {
		t := s.newTreatment(100, def(0, 100))
		s.Require().NoError(t.ApplySponsorship(s.sponsor, 100, s.now))
		t.ApplyBegin(s.now)
		t.ApplyComplete(s.now)
		return t
	}

	s.Run("patient reports once after completion", func() {
		t := completed()
		s.Require().NoError(t.CanReportOutcome(s.patient))
		t.ApplyOutcome(OutcomeReport{Summary: "full recovery", Successful: true, ResearchConsent: true}, s.now)
		s.Require().NotNil(t.Outcome)
		s.Equal(s.now, t.Outcome.ReportedAt)

		s.Require().ErrorIs(t.CanReportOutcome(s.patient), ErrOutcomeAlreadyReported)
	})

	s.Run("only the patient may report", func() {
		t := completed()
		s.Require().ErrorIs(t.CanReportOutcome(s.facility), ErrNotPatient)
	})

	s.Run("no report while the treatment is running", func() {
		t := s.newTreatment(100, def(0, 100))
		s.Require().NoError(t.ApplySponsorship(s.sponsor, 100, s.now))
		t.ApplyBegin(s.now)
		s.Require().Error(t.CanReportOutcome(s.patient))
	})

	s.Run("cancelled treatments also accept a report", func() {
		t := s.newTreatment(100, def(0, 100))
		t.ApplyCancel(s.now)
		s.Require().NoError(t.CanReportOutcome(s.patient))
	})
}

// TestClone verifies the deep copy.
func (s *TreatmentSuite) TestClone() {
	t := s.newTreatment(100, def(0, 100))
	s.Require().NoError(t.ApplySponsorship(s.sponsor, 30, s.now))

	clone := t.Clone()
	s.Require().NoError(clone.ApplySponsorship(s.sponsor, 20, s.now))
	clone.Milestones[0].ReleaseAmount = 1

	s.Len(t.Sponsors, 1)
	s.Equal(id.Amount(30), t.FundedAmount)
	s.Equal(id.Amount(100), t.Milestones[0].ReleaseAmount)
}
