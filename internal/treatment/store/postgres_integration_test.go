//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"lifeline/internal/treatment/models"
	"lifeline/internal/treatment/store"
	id "lifeline/pkg/domain"
	"lifeline/pkg/platform/sentinel"
	"lifeline/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())

	_, err := s.postgres.DB.ExecContext(context.Background(), store.Schema)
	s.Require().NoError(err)

	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "treatments")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newTreatment(target id.Amount) *models.Treatment {
	treatment, err := models.NewTreatment(
		id.NewTreatmentID(),
		id.SignerID(uuid.New()),
		id.SignerID(uuid.New()),
		"knee reconstruction",
		target,
		[]models.MilestoneDefinition{{Number: 1, ReleaseAmount: target}},
		time.Now(),
	)
	s.Require().NoError(err)
	return treatment
}

// TestCreateAndFind verifies the JSONB round trip.
func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	treatment := s.newTreatment(100)
	s.Require().NoError(s.store.Create(ctx, treatment))

	found, err := s.store.FindByID(ctx, treatment.ID)
	s.Require().NoError(err)
	s.Equal(treatment.ID, found.ID)
	s.Equal(treatment.Patient, found.Patient)
	s.Equal(id.Amount(100), found.FundingTarget)
	s.Equal(models.StatusFundingRequired, found.Status)

	s.Require().NoError(s.store.Create(ctx, s.newTreatment(50)))
	err = s.store.Create(ctx, treatment)
	s.ErrorIs(err, sentinel.ErrConflict)
}

// TestNotFound verifies missing treatments surface the sentinel.
func (s *PostgresStoreSuite) TestNotFound() {
	ctx := context.Background()

	_, err := s.store.FindByID(ctx, id.NewTreatmentID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Execute(ctx, id.NewTreatmentID(),
		func(*models.Treatment) error { return nil },
		func(*models.Treatment) {},
	)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestListOrdering verifies newest-first ordering.
func (s *PostgresStoreSuite) TestListOrdering() {
	ctx := context.Background()

	first := s.newTreatment(100)
	s.Require().NoError(s.store.Create(ctx, first))

	second := s.newTreatment(200)
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	s.Require().NoError(s.store.Create(ctx, second))

	listed, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(listed, 2)
	s.Equal(second.ID, listed[0].ID)
	s.Equal(first.ID, listed[1].ID)
}

// TestConcurrentSponsorships verifies the row lock makes concurrent
// funding additive with no lost updates.
func (s *PostgresStoreSuite) TestConcurrentSponsorships() {
	ctx := context.Background()
	treatment := s.newTreatment(100)
	s.Require().NoError(s.store.Create(ctx, treatment))

	const goroutines = 10
	var wg sync.WaitGroup
	var errCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var applyErr error
			_, err := s.store.Execute(ctx, treatment.ID,
				func(t *models.Treatment) error { return t.CanRecordSponsorship(10) },
				func(t *models.Treatment) {
					applyErr = t.ApplySponsorship(id.SignerID(uuid.New()), 10, time.Now())
				},
			)
			if err != nil || applyErr != nil {
				errCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(0), errCount.Load(), "all sponsorships fit within the target")

	found, err := s.store.FindByID(ctx, treatment.ID)
	s.Require().NoError(err)
	s.Equal(id.Amount(100), found.FundedAmount)
	s.Equal(models.StatusFullyFunded, found.Status)
	s.Len(found.Sponsors, goroutines)
}
