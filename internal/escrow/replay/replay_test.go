package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"lifeline/pkg/platform/sentinel"
)

type MemoryGuardSuite struct {
	suite.Suite
	ctx   context.Context
	guard *MemoryGuard
}

func (s *MemoryGuardSuite) SetupTest() {
	s.ctx = context.Background()
	s.guard = NewMemoryGuard()
}

func TestMemoryGuardSuite(t *testing.T) {
	suite.Run(t, new(MemoryGuardSuite))
}

// TestRegister verifies the first-writer-wins claim.
func (s *MemoryGuardSuite) TestRegister() {
	s.Run("first claim succeeds, second fails", func() {
		s.Require().NoError(s.guard.Register(s.ctx, "proof-a"))
		s.Require().ErrorIs(s.guard.Register(s.ctx, "proof-a"), sentinel.ErrAlreadyUsed)
	})

	s.Run("distinct hashes do not collide", func() {
		s.Require().NoError(s.guard.Register(s.ctx, "proof-b"))
		s.Require().NoError(s.guard.Register(s.ctx, "proof-c"))
	})
}

// TestUnregister verifies a released claim can be registered again.
func (s *MemoryGuardSuite) TestUnregister() {
	s.Run("released hash registers again", func() {
		s.Require().NoError(s.guard.Register(s.ctx, "proof-d"))
		s.Require().NoError(s.guard.Unregister(s.ctx, "proof-d"))
		s.Require().NoError(s.guard.Register(s.ctx, "proof-d"))
	})

	s.Run("releasing an unclaimed hash is a no-op", func() {
		s.Require().NoError(s.guard.Unregister(s.ctx, "proof-e"))
	})
}
