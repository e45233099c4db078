package ratelimit

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc"
)

// Identifier names one dimension to evaluate, e.g. {PolicyIP, "203.0.113.7"}.
type Identifier struct {
	Type  PolicyType
	Value string
}

// Checker evaluates a single dimension. *Limiter implements it.
type Checker interface {
	Check(ctx context.Context, identifier string, policyType PolicyType) (Decision, error)
}

// AggregateResult combines the decisions of every evaluated dimension.
type AggregateResult struct {
	Allowed      bool
	PerDimension map[PolicyType]Decision
	// Order lists the evaluated policy types in evaluation order.
	Order []PolicyType
}

// FirstDenied returns the first denied dimension in evaluation order. When several
// dimensions are denied this is not necessarily the most restrictive one.
func (r *AggregateResult) FirstDenied() (PolicyType, Decision, bool) {
	if r == nil {
		return "", Decision{}, false
	}

	for _, policyType := range r.Order {
		if decision := r.PerDimension[policyType]; !decision.Allowed {
			return policyType, decision, true
		}
	}
	return "", Decision{}, false
}

// Aggregator evaluates several dimensions and ANDs the results.
type Aggregator struct {
	checker  Checker
	parallel bool
	log      *slog.Logger
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

// WithParallel evaluates dimensions concurrently. They touch disjoint keys so the
// outcome does not depend on ordering; the result still reports them in input order.
func WithParallel() AggregatorOption {
	return func(a *Aggregator) {
		a.parallel = true
	}
}

// NewAggregator creates an Aggregator over checker.
func NewAggregator(checker Checker, log *slog.Logger, opts ...AggregatorOption) *Aggregator {
	if log == nil {
		log = slog.Default()
	}

	a := &Aggregator{
		checker: checker,
		log:     log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CheckAll evaluates each identifier once, in order. A repeated policy type keeps its
// first position and takes the later value. The first checker error aborts the result.
func (a *Aggregator) CheckAll(ctx context.Context, identifiers []Identifier) (*AggregateResult, error) {
	dims := dedupe(identifiers)
	decisions := make([]Decision, len(dims))
	errs := make([]error, len(dims))

	if a.parallel && len(dims) > 1 {
		var wg conc.WaitGroup
		for i, id := range dims {
			wg.Go(func() {
				decisions[i], errs[i] = a.checker.Check(ctx, id.Value, id.Type)
			})
		}
		wg.Wait()
	} else {
		for i, id := range dims {
			decisions[i], errs[i] = a.checker.Check(ctx, id.Value, id.Type)
			if errs[i] != nil {
				break
			}
		}
	}

	result := &AggregateResult{
		Allowed:      true,
		PerDimension: make(map[PolicyType]Decision, len(dims)),
		Order:        make([]PolicyType, 0, len(dims)),
	}

	for i, id := range dims {
		if errs[i] != nil {
			a.log.Error("rate limit dimension check failed",
				slog.String("policy", string(id.Type)),
				slog.Any("error", errs[i]),
			)
			return nil, errs[i]
		}

		result.PerDimension[id.Type] = decisions[i]
		result.Order = append(result.Order, id.Type)
		result.Allowed = result.Allowed && decisions[i].Allowed
	}

	return result, nil
}

func dedupe(identifiers []Identifier) []Identifier {
	dims := make([]Identifier, 0, len(identifiers))
	index := make(map[PolicyType]int, len(identifiers))

	for _, id := range identifiers {
		if i, ok := index[id.Type]; ok {
			dims[i].Value = id.Value
			continue
		}
		index[id.Type] = len(dims)
		dims = append(dims, id)
	}
	return dims
}
