package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "lifeline/pkg/domain"
	audit "lifeline/pkg/platform/audit"
	auditmemory "lifeline/pkg/platform/audit/store/memory"
)

// failingStore rejects every append.
type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}

func (failingStore) ListByTreatment(context.Context, id.TreatmentID) ([]audit.Event, error) {
	return nil, nil
}

type PublisherSuite struct {
	suite.Suite
	ctx   context.Context
	store *auditmemory.InMemoryStore
}

func (s *PublisherSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = auditmemory.NewInMemoryStore()
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

// TestEmit verifies the fail-closed persistence contract.
func (s *PublisherSuite) TestEmit() {
	treatmentID := id.TreatmentID(uuid.New())

	s.Run("persists the event synchronously", func() {
		publisher := New(s.store)
		err := publisher.Emit(s.ctx, audit.Event{
			TreatmentID: treatmentID,
			Action:      string(audit.EventMilestoneReleased),
			Amount:      40,
		})
		s.Require().NoError(err)

		events, err := s.store.ListByTreatment(s.ctx, treatmentID)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(id.Amount(40), events[0].Amount)
	})

	s.Run("fills in timestamp and category defaults", func() {
		s.store.Clear()
		publisher := New(s.store)
		s.Require().NoError(publisher.Emit(s.ctx, audit.Event{
			TreatmentID: treatmentID,
			Action:      string(audit.EventEmergencyInitiated),
		}))

		events, err := s.store.ListByTreatment(s.ctx, treatmentID)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(audit.CategorySecurity, events[0].Category)
		s.WithinDuration(time.Now(), events[0].Timestamp, time.Minute)
	})

	s.Run("rejects events without an action", func() {
		publisher := New(s.store)
		s.Require().Error(publisher.Emit(s.ctx, audit.Event{TreatmentID: treatmentID}))
	})

	s.Run("store failure fails the emit", func() {
		publisher := New(failingStore{})
		err := publisher.Emit(s.ctx, audit.Event{
			TreatmentID: treatmentID,
			Action:      string(audit.EventEscrowFunded),
		})
		s.Require().Error(err)
	})
}
