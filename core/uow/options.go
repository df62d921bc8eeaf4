package uow

import (
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DuplicatePolicy decides what RegisterAggregate does when an aggregate with the same
// type and identifier is registered a second time.
type DuplicatePolicy int

const (
	// ReturnRegistered hands back the instance registered first and drops the new save
	// callback.
	ReturnRegistered DuplicatePolicy = iota
	// FailOnDuplicate rejects the second registration with ErrIllegalState.
	FailOnDuplicate
)

func (p DuplicatePolicy) String() string {
	if p == FailOnDuplicate {
		return "fail_on_duplicate"
	}
	return "return_registered"
}

type options struct {
	log      *slog.Logger
	registry *Registry
	metrics  Metrics
	policy   DuplicatePolicy
	newID    func() string
}

func defaultOptions() options {
	return options{
		log:      slog.Default(),
		registry: defaultRegistry,
		metrics:  NopMetrics(),
		policy:   ReturnRegistered,
		newID:    func() string { return gonanoid.Must() },
	}
}

type Option func(*options)

func WithLog(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithRegistry binds units of work to r instead of DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithDuplicatePolicy fixes the duplicate registration policy for the life of the unit.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithIDGenerator replaces the nanoid generator for unit of work identifiers.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}
