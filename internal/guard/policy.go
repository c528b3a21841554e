package guard

import (
	"context"
	"gatekeep/internal/types"
)

// PolicyLimiter applies the named, immutable policy of each Operation on top of a
// SlidingWindowLimiter.
type PolicyLimiter struct {
	limiter  *SlidingWindowLimiter
	policies map[types.Operation]types.Policy
}

// NewPolicyLimiter checks that policies covers every Operation with a valid Policy.
// The map is copied; later changes by the caller have no effect.
func NewPolicyLimiter(limiter *SlidingWindowLimiter, policies map[types.Operation]types.Policy) (*PolicyLimiter, error) {
	own := make(map[types.Operation]types.Policy, len(types.Operations))
	for _, op := range types.Operations {
		p, ok := policies[op]
		if !ok {
			return nil, types.Err(types.ErrInvalidPolicy, nil, "missing policy for %s", op)
		}
		if p.Operation != op {
			return nil, types.Err(types.ErrInvalidPolicy, nil, "policy for %s is declared as %s", op, p.Operation)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		own[op] = p
	}
	if len(policies) != len(own) {
		return nil, types.Err(types.ErrInvalidPolicy, nil, "policies contain unknown operations")
	}
	return &PolicyLimiter{limiter: limiter, policies: own}, nil
}

// Policy returns the policy applied to op.
func (p *PolicyLimiter) Policy(op types.Operation) (types.Policy, error) {
	pol, ok := p.policies[op]
	if !ok {
		return types.Policy{}, types.Err(types.ErrUnknownOperation, nil, "operation %s", op)
	}
	return pol, nil
}

// Policies returns a copy of the policy table.
func (p *PolicyLimiter) Policies() map[types.Operation]types.Policy {
	out := make(map[types.Operation]types.Policy, len(p.policies))
	for op, pol := range p.policies {
		out[op] = pol
	}
	return out
}

func (p *PolicyLimiter) Check(ctx context.Context, op types.Operation, identifier string) (types.Decision, error) {
	pol, err := p.Policy(op)
	if err != nil {
		return types.Decision{}, err
	}
	return p.limiter.Check(ctx, identifier, pol), nil
}

func (p *PolicyLimiter) Status(ctx context.Context, op types.Operation, identifier string) (types.Decision, error) {
	pol, err := p.Policy(op)
	if err != nil {
		return types.Decision{}, err
	}
	return p.limiter.Status(ctx, identifier, pol), nil
}

func (p *PolicyLimiter) Reset(ctx context.Context, op types.Operation, identifier string) error {
	if _, err := p.Policy(op); err != nil {
		return err
	}
	return p.limiter.Reset(ctx, identifier, op)
}

// CheckLogin is keyed by client IP.
func (p *PolicyLimiter) CheckLogin(ctx context.Context, ip string) types.Decision {
	return p.limiter.Check(ctx, ip, p.policies[types.OpLogin])
}

// CheckRegistration is keyed by client IP.
func (p *PolicyLimiter) CheckRegistration(ctx context.Context, ip string) types.Decision {
	return p.limiter.Check(ctx, ip, p.policies[types.OpRegistration])
}

// CheckPasswordReset is keyed by the account email, so one victim account is protected
// against many attacker addresses.
func (p *PolicyLimiter) CheckPasswordReset(ctx context.Context, email string) types.Decision {
	return p.limiter.Check(ctx, email, p.policies[types.OpPasswordReset])
}

func (p *PolicyLimiter) CheckExport(ctx context.Context, ip string, bulk bool) types.Decision {
	if bulk {
		return p.limiter.Check(ctx, ip, p.policies[types.OpExportBulk])
	}
	return p.limiter.Check(ctx, ip, p.policies[types.OpExportSingle])
}
