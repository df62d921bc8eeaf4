package ledger

import (
	"context"
	"fmt"

	"github.com/codewandler/uow-go/core/command"
	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/es"
	"github.com/codewandler/uow-go/core/uow"
)

type (
	OpenAccountCmd struct {
		AccountID domain.AggregateID
		Owner     string
	}
	IssueCardCmd struct {
		AccountID domain.AggregateID
		Number    string
		Limit     int
	}
	ChargeCardCmd struct {
		AccountID domain.AggregateID
		Number    string
		Amount    int
	}
	RepayCardCmd struct {
		AccountID domain.AggregateID
		Number    string
		Amount    int
	}
	CloseAccountCmd struct {
		AccountID domain.AggregateID
		Reason    string
	}
)

func (OpenAccountCmd) CommandName() string  { return "ledger.open_account" }
func (IssueCardCmd) CommandName() string    { return "ledger.issue_card" }
func (ChargeCardCmd) CommandName() string   { return "ledger.charge_card" }
func (RepayCardCmd) CommandName() string    { return "ledger.repay_card" }
func (CloseAccountCmd) CommandName() string { return "ledger.close_account" }

func (c OpenAccountCmd) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	return nil
}

func (c IssueCardCmd) Validate() error    { return requireAccount(c.AccountID) }
func (c ChargeCardCmd) Validate() error   { return requireAccount(c.AccountID) }
func (c RepayCardCmd) Validate() error    { return requireAccount(c.AccountID) }
func (c CloseAccountCmd) Validate() error { return requireAccount(c.AccountID) }

func requireAccount(id domain.AggregateID) error {
	if id.IsZero() {
		return fmt.Errorf("account id is required")
	}
	return nil
}

// Handlers executes ledger commands against an account repository.
type Handlers struct {
	Accounts *es.Repository[*Account]
}

// Register subscribes every ledger command handler to bus.
func (h *Handlers) Register(bus *command.SimpleBus) {
	command.Subscribe(bus, h.openAccount)
	command.Subscribe(bus, h.issueCard)
	command.Subscribe(bus, h.chargeCard)
	command.Subscribe(bus, h.repayCard)
	command.Subscribe(bus, h.closeAccount)
}

func (h *Handlers) openAccount(ctx context.Context, cmd OpenAccountCmd, _ uow.UnitOfWork) (any, error) {
	id := cmd.AccountID
	if id.IsZero() {
		id = domain.NewAggregateID()
	}
	a, err := OpenAccount(id, cmd.Owner)
	if err != nil {
		return nil, err
	}
	if _, err = h.Accounts.Add(ctx, a); err != nil {
		return nil, err
	}
	return id, nil
}

func (h *Handlers) issueCard(ctx context.Context, cmd IssueCardCmd, _ uow.UnitOfWork) (any, error) {
	a, err := h.Accounts.Load(ctx, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	return nil, a.IssueCard(cmd.Number, cmd.Limit)
}

// chargeCard reports whether the charge was booked. A declined charge blocks the card
// and still commits.
func (h *Handlers) chargeCard(ctx context.Context, cmd ChargeCardCmd, _ uow.UnitOfWork) (any, error) {
	c, err := h.card(ctx, cmd.AccountID, cmd.Number)
	if err != nil {
		return nil, err
	}
	if err = c.Charge(cmd.Amount); err != nil {
		return nil, err
	}
	return !c.Blocked, nil
}

func (h *Handlers) repayCard(ctx context.Context, cmd RepayCardCmd, _ uow.UnitOfWork) (any, error) {
	c, err := h.card(ctx, cmd.AccountID, cmd.Number)
	if err != nil {
		return nil, err
	}
	return nil, c.Repay(cmd.Amount)
}

func (h *Handlers) closeAccount(ctx context.Context, cmd CloseAccountCmd, _ uow.UnitOfWork) (any, error) {
	a, err := h.Accounts.Load(ctx, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	return nil, a.Close(cmd.Reason)
}

func (h *Handlers) card(ctx context.Context, id domain.AggregateID, number string) (*Card, error) {
	a, err := h.Accounts.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Card(number)
}
