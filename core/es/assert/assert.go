// Package assert builds named business preconditions for command handlers. A failing
// check reports domain.ErrPreconditionViolation together with the name of the first
// condition that did not hold.
package assert

import (
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
)

type Func func() error
type CondFunc func() bool

type Cond interface {
	String() string
	Eval() bool
	Check() error
}

type cond struct {
	name  string
	eval  CondFunc
	check func() error
}

func (c *cond) Check() error   { return c.check() }
func (c *cond) String() string { return c.name }
func (c *cond) Eval() bool     { return c.eval() }

func newCond(name string, fn CondFunc) *cond {
	return &cond{name: name, eval: fn, check: func() error {
		if !fn() {
			return fmt.Errorf("%w: %s", domain.ErrPreconditionViolation, name)
		}
		return nil
	}}
}

// That evaluates fn lazily on every Eval or Check.
func That(name string, fn CondFunc) Cond { return newCond(name, fn) }

func True(v bool, name string) Cond  { return newCond(name, func() bool { return v }) }
func False(v bool, name string) Cond { return newCond(name, func() bool { return !v }) }

func Not(c Cond) Cond {
	return newCond(fmt.Sprintf("not(%s)", c.String()), func() bool { return !c.Eval() })
}

// All holds when every condition holds. Check reports the first failing one.
func All(cs ...Cond) Cond {
	all := newCond("all", func() bool {
		for _, c := range cs {
			if !c.Eval() {
				return false
			}
		}
		return true
	})
	all.check = func() error {
		for _, c := range cs {
			if err := c.Check(); err != nil {
				return err
			}
		}
		return nil
	}
	return all
}

// Any holds when at least one condition holds.
func Any(cs ...Cond) Cond {
	names := make([]any, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.String())
	}
	return newCond(fmt.Sprintf("any%v", names), func() bool {
		for _, c := range cs {
			if c.Eval() {
				return true
			}
		}
		return false
	})
}

// Assert returns the combined check of cond, to be called when the handler runs.
func Assert(cond ...Cond) Func { return All(cond...).Check }
