// Package ledger is a small card ledger built on event-sourced aggregates: accounts own
// cards, cards are charged against a limit, and accounts can be closed.
package ledger

import (
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/es"
	"github.com/codewandler/uow-go/core/es/assert"
)

var ErrCardNotFound = fmt.Errorf("%w: card not found", domain.ErrPreconditionViolation)

type (
	AccountOpened struct {
		Owner string `json:"owner"`
	}
	CardIssued struct {
		Number string `json:"number"`
		Limit  int    `json:"limit"`
	}
	CardCharged struct {
		Number string `json:"number"`
		Amount int    `json:"amount"`
	}
	CardRepaid struct {
		Number string `json:"number"`
		Amount int    `json:"amount"`
	}
	CardBlocked struct {
		Number string `json:"number"`
	}
	AccountClosed struct {
		es.AggregateDeletedEvent
		Reason string `json:"reason"`
	}
)

func (AccountOpened) EventType() string { return "ledger.account_opened" }
func (CardIssued) EventType() string    { return "ledger.card_issued" }
func (CardCharged) EventType() string   { return "ledger.card_charged" }
func (CardRepaid) EventType() string    { return "ledger.card_repaid" }
func (CardBlocked) EventType() string   { return "ledger.card_blocked" }
func (AccountClosed) EventType() string { return "ledger.account_closed" }

// Events returns the constructors of every ledger event, for es.NewEventRegistry.
func Events() []func() any {
	return []func() any{
		es.Event[AccountOpened](),
		es.Event[CardIssued](),
		es.Event[CardCharged](),
		es.Event[CardRepaid](),
		es.Event[CardBlocked](),
		es.Event[AccountClosed](),
	}
}

func NewRegistry() *es.EventRegistry { return es.NewEventRegistry(Events()...) }

type Account struct {
	es.BaseAggregate
	Owner string           `json:"owner"`
	Cards map[string]*Card `json:"cards"`
}

func NewAccount() *Account { return &Account{} }

// OpenAccount creates a new account owned by owner.
func OpenAccount(id domain.AggregateID, owner string) (*Account, error) {
	a := NewAccount()
	if err := a.Init(id); err != nil {
		return nil, err
	}
	if err := es.Apply(a, &AccountOpened{Owner: owner}); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) AggregateType() string { return "account" }

func (a *Account) Handle(ev *domain.Event) error {
	switch p := ev.Payload().(type) {
	case *AccountOpened:
		a.Owner = p.Owner
		a.Cards = map[string]*Card{}
	case *CardIssued:
		a.Cards[p.Number] = &Card{Number: p.Number, Limit: p.Limit}
	}
	return nil
}

func (a *Account) ChildEntities() []es.Entity { return es.SortedMapEntities(a.Cards) }

func (a *Account) Balance() (spent int) {
	for _, c := range a.Cards {
		spent += c.Spent
	}
	return spent
}

func (a *Account) IssueCard(number string, limit int) error {
	_, exists := a.Cards[number]
	if err := assert.All(
		assert.True(number != "", "card number is set"),
		assert.True(limit > 0, "card limit is positive"),
		assert.False(exists, "card number is unused"),
	).Check(); err != nil {
		return err
	}
	return es.Apply(a, &CardIssued{Number: number, Limit: limit})
}

func (a *Account) Card(number string) (*Card, error) {
	c, ok := a.Cards[number]
	if !ok {
		return nil, fmt.Errorf("%w: %s on account %s", ErrCardNotFound, number, a.AggregateID())
	}
	return c, nil
}

// Close deletes the account. It fails while any card has an outstanding balance.
func (a *Account) Close(reason string) error {
	if err := assert.True(a.Balance() == 0, "account has no outstanding balance").Check(); err != nil {
		return err
	}
	return es.Apply(a, &AccountClosed{Reason: reason})
}

type Card struct {
	es.BaseEntity
	Number  string `json:"number"`
	Limit   int    `json:"limit"`
	Spent   int    `json:"spent"`
	Blocked bool   `json:"blocked"`
}

func (c *Card) Handle(ev *domain.Event) error {
	switch p := ev.Payload().(type) {
	case *CardCharged:
		if p.Number == c.Number {
			c.Spent += p.Amount
		}
	case *CardRepaid:
		if p.Number == c.Number {
			c.Spent -= p.Amount
		}
	case *CardBlocked:
		if p.Number == c.Number {
			c.Blocked = true
		}
	}
	return nil
}

func (c *Card) Available() int { return c.Limit - c.Spent }

// Charge books amount on the card. A charge exceeding the limit blocks the card instead.
func (c *Card) Charge(amount int) error {
	if err := assert.All(
		assert.True(amount > 0, "amount is positive"),
		assert.False(c.Blocked, "card is not blocked"),
	).Check(); err != nil {
		return err
	}
	if amount > c.Available() {
		return c.Apply(&CardBlocked{Number: c.Number})
	}
	return c.Apply(&CardCharged{Number: c.Number, Amount: amount})
}

func (c *Card) Repay(amount int) error {
	if err := assert.All(
		assert.True(amount > 0, "amount is positive"),
		assert.True(amount <= c.Spent, "amount does not exceed the balance"),
	).Check(); err != nil {
		return err
	}
	return c.Apply(&CardRepaid{Number: c.Number, Amount: amount})
}
