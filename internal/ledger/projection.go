package ledger

import (
	"context"
	"sync"

	"github.com/codewandler/uow-go/core/domain"
)

// Summary is the read-side view of one account.
type Summary struct {
	Owner   string
	Spent   int
	Cards   int
	Blocked int
	Closed  bool
}

// Balances projects published ledger events into per-account summaries. Subscribe it to
// an event bus with eventbus.SimpleEventBus.Subscribe.
type Balances struct {
	mu       sync.RWMutex
	accounts map[domain.AggregateID]Summary
}

func NewBalances() *Balances {
	return &Balances{accounts: map[domain.AggregateID]Summary{}}
}

func (b *Balances) OnEvent(_ context.Context, ev *domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.accounts[ev.AggregateID()]
	switch p := ev.Payload().(type) {
	case *AccountOpened:
		s = Summary{Owner: p.Owner}
	case *CardIssued:
		s.Cards++
	case *CardCharged:
		s.Spent += p.Amount
	case *CardRepaid:
		s.Spent -= p.Amount
	case *CardBlocked:
		s.Blocked++
	case *AccountClosed:
		s.Closed = true
	default:
		return nil
	}
	b.accounts[ev.AggregateID()] = s
	return nil
}

func (b *Balances) Get(id domain.AggregateID) (Summary, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.accounts[id]
	return s, ok
}

// Totals sums the outstanding balance over open accounts.
func (b *Balances) Totals() (accounts, spent int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.accounts {
		if s.Closed {
			continue
		}
		accounts++
		spent += s.Spent
	}
	return accounts, spent
}
