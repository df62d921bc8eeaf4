package es

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/uow-go/core/domain"
)

type (
	accountOpened struct {
		Owner string `json:"owner"`
	}
	cardIssued struct {
		Number string `json:"number"`
	}
	cardCharged struct {
		Number string `json:"number"`
		Amount int    `json:"amount"`
	}
	accountClosed struct {
		AggregateDeletedEvent
		Reason string `json:"reason"`
	}
)

func (e *accountOpened) Validate() error {
	if e.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	return nil
}

type account struct {
	BaseAggregate
	Owner string           `json:"owner"`
	Cards map[string]*card `json:"cards"`

	handled []string
}

func newAccount() *account { return &account{} }

func openAccount(t *testing.T, id domain.AggregateID, owner string) *account {
	t.Helper()
	a := newAccount()
	require.NoError(t, a.Init(id))
	require.NoError(t, Apply(a, &accountOpened{Owner: owner}))
	return a
}

func (a *account) AggregateType() string { return "account" }

func (a *account) Handle(ev *domain.Event) error {
	a.handled = append(a.handled, payloadName(ev))
	switch p := ev.Payload().(type) {
	case *accountOpened:
		a.Owner = p.Owner
		a.Cards = map[string]*card{}
	case *cardIssued:
		a.Cards[p.Number] = &card{Number: p.Number}
	}
	return nil
}

func (a *account) ChildEntities() []Entity { return SortedMapEntities(a.Cards) }

func (a *account) issue(number string) error { return Apply(a, &cardIssued{Number: number}) }

type card struct {
	BaseEntity
	Number  string `json:"number"`
	Charged int    `json:"charged"`

	seen []string
}

func (c *card) Handle(ev *domain.Event) error {
	c.seen = append(c.seen, payloadName(ev))
	if p, ok := ev.Payload().(*cardCharged); ok && p.Number == c.Number {
		c.Charged += p.Amount
	}
	return nil
}

func (c *card) charge(amount int) error {
	return c.Apply(&cardCharged{Number: c.Number, Amount: amount})
}

func payloadName(ev *domain.Event) string {
	name := fmt.Sprintf("%T", ev.Payload())
	return strings.TrimPrefix(name[strings.LastIndex(name, ".")+1:], "*")
}

// node is a generic tree entity recording the delivery order.
type node struct {
	BaseEntity
	name     string
	children []*node
	log      *[]string
}

func (n *node) Handle(*domain.Event) error {
	*n.log = append(*n.log, n.name)
	return nil
}

func (n *node) ChildEntities() []Entity { return Entities(n.children...) }

type tree struct {
	BaseAggregate
	children []*node
	log      *[]string
}

func (t *tree) Handle(*domain.Event) error {
	*t.log = append(*t.log, "root")
	return nil
}

func (t *tree) ChildEntities() []Entity { return Entities(t.children...) }

func sequenced(t *testing.T, id domain.AggregateID, payloads ...any) []*domain.Event {
	t.Helper()
	out := make([]*domain.Event, 0, len(payloads))
	for i, p := range payloads {
		out = append(out, domain.NewEvent(
			p,
			domain.WithAggregateID(id),
			domain.WithSequenceNumber(domain.SequenceNumber(i)),
		))
	}
	return out
}
