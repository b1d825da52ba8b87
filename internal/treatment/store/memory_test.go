package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"lifeline/internal/treatment/models"
	id "lifeline/pkg/domain"
	"lifeline/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemory
	now   time.Time
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemory()
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) newTreatment() *models.Treatment {
	t, err := models.NewTreatment(
		id.NewTreatmentID(),
		id.SignerID(uuid.New()),
		id.SignerID(uuid.New()),
		"physiotherapy",
		100,
		[]models.MilestoneDefinition{{Number: 0, ReleaseAmount: 100}},
		s.now,
	)
	s.Require().NoError(err)
	return t
}

// TestCreateAndFind verifies persistence and copy semantics.
func (s *MemoryStoreSuite) TestCreateAndFind() {
	s.Run("round trips a treatment", func() {
		t := s.newTreatment()
		s.Require().NoError(s.store.Create(s.ctx, t))
		found, err := s.store.FindByID(s.ctx, t.ID)
		s.Require().NoError(err)
		s.Equal(t.ID, found.ID)
	})

	s.Run("duplicate create conflicts", func() {
		t := s.newTreatment()
		s.Require().NoError(s.store.Create(s.ctx, t))
		s.Require().ErrorIs(s.store.Create(s.ctx, t), sentinel.ErrConflict)
	})

	s.Run("missing treatment is not found", func() {
		_, err := s.store.FindByID(s.ctx, id.NewTreatmentID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned copies do not alias the stored record", func() {
		t := s.newTreatment()
		s.Require().NoError(s.store.Create(s.ctx, t))
		found, err := s.store.FindByID(s.ctx, t.ID)
		s.Require().NoError(err)
		found.FundedAmount = 999

		again, err := s.store.FindByID(s.ctx, t.ID)
		s.Require().NoError(err)
		s.Equal(id.Amount(0), again.FundedAmount)
	})
}

// TestList verifies newest-first ordering.
func (s *MemoryStoreSuite) TestList() {
	first := s.newTreatment()
	s.Require().NoError(s.store.Create(s.ctx, first))

	second := s.newTreatment()
	second.CreatedAt = s.now.Add(time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, second))

	listed, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(listed, 2)
	s.Equal(second.ID, listed[0].ID)
	s.Equal(first.ID, listed[1].ID)
}

// TestExecute verifies the atomic validate-then-mutate contract.
func (s *MemoryStoreSuite) TestExecute() {
	sponsor := id.SignerID(uuid.New())

	s.Run("persists the mutation when validate passes", func() {
		t := s.newTreatment()
		s.Require().NoError(s.store.Create(s.ctx, t))

		updated, err := s.store.Execute(s.ctx, t.ID,
			func(t *models.Treatment) error { return t.CanRecordSponsorship(40) },
			func(t *models.Treatment) { _ = t.ApplySponsorship(sponsor, 40, s.now) },
		)
		s.Require().NoError(err)
		s.Equal(id.Amount(40), updated.FundedAmount)

		stored, err := s.store.FindByID(s.ctx, t.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPartiallyFunded, stored.Status)
	})

	s.Run("validate failure leaves the record untouched", func() {
		t := s.newTreatment()
		s.Require().NoError(s.store.Create(s.ctx, t))

		wantErr := errors.New("rejected")
		_, err := s.store.Execute(s.ctx, t.ID,
			func(*models.Treatment) error { return wantErr },
			func(t *models.Treatment) { _ = t.ApplySponsorship(sponsor, 40, s.now) },
		)
		s.Require().ErrorIs(err, wantErr)

		stored, err := s.store.FindByID(s.ctx, t.ID)
		s.Require().NoError(err)
		s.Equal(id.Amount(0), stored.FundedAmount)
	})

	s.Run("missing treatment is not found", func() {
		_, err := s.store.Execute(s.ctx, id.NewTreatmentID(),
			func(*models.Treatment) error { return nil },
			func(*models.Treatment) {},
		)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}
