package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Proton-105/site-pulse/pkg/config"
)

// PolicyType tags a rate-limited dimension.
type PolicyType string

const (
	// PolicyIP limits by caller address.
	PolicyIP PolicyType = "IP"
	// PolicySite limits by tracked site (tenant).
	PolicySite PolicyType = "SITE"
)

// Policy is a fixed-window rule: at most MaxRequests per Window.
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// Policies maps a policy type to its rule. It is built once at startup and never mutated.
type Policies map[PolicyType]Policy

// ErrUnknownPolicy is returned when a check names a policy type that is not configured.
var ErrUnknownPolicy = errors.New("unknown rate limit policy")

// DefaultPolicies returns the built-in IP and SITE rules.
func DefaultPolicies() Policies {
	return Policies{
		PolicyIP:   {Window: 15 * time.Minute, MaxRequests: 1000},
		PolicySite: {Window: time.Minute, MaxRequests: 10000},
	}
}

// PoliciesFromConfig overlays configured rules on top of the defaults.
// Keys are case-insensitive; new keys add new policy types.
func PoliciesFromConfig(cfg config.RateLimitConfig) (Policies, error) {
	policies := DefaultPolicies()

	for name, rule := range cfg.Policies {
		policyType := PolicyType(strings.ToUpper(strings.TrimSpace(name)))
		if policyType == "" {
			return nil, errors.New("rate limit policy with empty name")
		}

		policy, err := parseRule(rule)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", policyType, err)
		}
		policies[policyType] = policy
	}

	if err := policies.Validate(); err != nil {
		return nil, err
	}

	return policies, nil
}

// Lookup resolves the rule for policyType.
func (p Policies) Lookup(policyType PolicyType) (Policy, error) {
	policy, ok := p[policyType]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policyType)
	}
	return policy, nil
}

// Validate rejects non-positive windows and limits.
func (p Policies) Validate() error {
	if len(p) == 0 {
		return errors.New("no rate limit policies configured")
	}

	for _, policyType := range p.Types() {
		policy := p[policyType]
		if policy.Window <= 0 {
			return fmt.Errorf("policy %s: window must be positive", policyType)
		}
		if policy.MaxRequests <= 0 {
			return fmt.Errorf("policy %s: max requests must be positive", policyType)
		}
	}

	return nil
}

// Types returns the configured policy types in lexical order.
func (p Policies) Types() []PolicyType {
	types := make([]PolicyType, 0, len(p))
	for policyType := range p {
		types = append(types, policyType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func parseRule(rule config.RateLimitRule) (Policy, error) {
	if rule.Window == "" {
		return Policy{}, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return Policy{}, err
	}
	return Policy{Window: window, MaxRequests: rule.MaxRequests}, nil
}
