package ledger

import (
	"context"
	"fmt"
	"sync"

	id "lifeline/pkg/domain"
	"lifeline/pkg/platform/sentinel"
)

// account pairs a balance with the authority recorded at creation.
type account struct {
	balance   id.Amount
	authority Descriptor
}

// Memory is the in-process reference ledger. Transfers are atomic under a
// single mutex: debit, credit, and authority check happen in one critical
// section, so a failed transfer leaves both balances untouched.
type Memory struct {
	mu       sync.Mutex
	accounts map[AccountID]*account
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[AccountID]*account)}
}

func (m *Memory) CreateAccount(_ context.Context, acct AccountID, authority Authority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct]; ok {
		return fmt.Errorf("account %s: %w", acct, sentinel.ErrConflict)
	}
	m.accounts[acct] = &account{authority: authority.descriptor()}
	return nil
}

// Mint credits an account out of thin air. Test and bootstrap helper; the
// production chain adapter has no equivalent.
func (m *Memory) Mint(_ context.Context, acct AccountID, amount id.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[acct]
	if !ok {
		return fmt.Errorf("account %s: %w", acct, sentinel.ErrNotFound)
	}
	next, err := a.balance.CheckedAdd(amount)
	if err != nil {
		return err
	}
	a.balance = next
	return nil
}

func (m *Memory) Transfer(_ context.Context, from, to AccountID, authority Authority, amount id.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.accounts[from]
	if !ok {
		return fmt.Errorf("source account %s: %w", from, sentinel.ErrNotFound)
	}
	dst, ok := m.accounts[to]
	if !ok {
		return fmt.Errorf("destination account %s: %w", to, sentinel.ErrNotFound)
	}
	if !authority.Matches(src.authority) {
		return fmt.Errorf("authority does not match account %s: %w", from, sentinel.ErrInvalidState)
	}
	if src.balance < amount {
		return fmt.Errorf("account %s holds %d, needs %d: %w", from, src.balance, amount, sentinel.ErrInsufficientFunds)
	}

	credited, err := dst.balance.CheckedAdd(amount)
	if err != nil {
		return err
	}
	src.balance -= amount
	dst.balance = credited
	return nil
}

func (m *Memory) Balance(_ context.Context, acct AccountID) (id.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[acct]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", acct, sentinel.ErrNotFound)
	}
	return a.balance, nil
}
