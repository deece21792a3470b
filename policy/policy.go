// Package policy builds change interceptors for a binding.Observer out of
// composable rules.
//
// Every rule returns a decision: Allow, Deny or Skip. Rules of a policy are
// evaluated in order and the first non-Skip decision wins. A Deny decision
// vetoes the change, so the context is not synchronized with it; Allow, or
// a policy in which every rule skipped, lets the observer synchronize the
// context as usual.
//
//	p := policy.Policy{
//	    Entity: policy.EntityPolicy{
//	        policy.ReadOnlyProperty("ID", "CreatedAt"),
//	    },
//	    Collection: policy.CollectionPolicy{
//	        policy.DenyEntitySet("AuditLogs"),
//	        policy.DenyActionRule(bindgraph.ActionRemove),
//	    },
//	}
//	obs := binding.New(cc, p.Options()...)
package policy

import (
	"errors"
	"fmt"

	"github.com/syssam/bindgraph"
	"github.com/syssam/bindgraph/binding"
)

// Policy decision sentinel errors. Use errors.Is to check for them.
var (
	// Allow terminates evaluation and lets the change through.
	Allow = errors.New("policy: allow rule")
	// Deny terminates evaluation and vetoes the change.
	Deny = errors.New("policy: deny rule")
	// Skip continues evaluation with the next rule.
	Skip = errors.New("policy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

type (
	// EntityRule decides on property changes of entities.
	EntityRule interface {
		EvalEntity(*bindgraph.EntityChange) error
	}

	// CollectionRule decides on membership changes of collections.
	CollectionRule interface {
		EvalCollection(*bindgraph.CollectionChange) error
	}

	// Rule groups entity and collection rules.
	Rule interface {
		EntityRule
		CollectionRule
	}

	// EntityPolicy combines entity rules.
	EntityPolicy []EntityRule

	// CollectionPolicy combines collection rules.
	CollectionPolicy []CollectionRule
)

// EntityRuleFunc adapts a function to EntityRule.
type EntityRuleFunc func(*bindgraph.EntityChange) error

// EvalEntity returns f(c).
func (f EntityRuleFunc) EvalEntity(c *bindgraph.EntityChange) error {
	return f(c)
}

// CollectionRuleFunc adapts a function to CollectionRule.
type CollectionRuleFunc func(*bindgraph.CollectionChange) error

// EvalCollection returns f(c).
func (f CollectionRuleFunc) EvalCollection(c *bindgraph.CollectionChange) error {
	return f(c)
}

// EvalEntity evaluates the rules in order. It returns nil when every rule
// skipped or a rule allowed the change.
func (p EntityPolicy) EvalEntity(c *bindgraph.EntityChange) error {
	for _, rule := range p {
		if decision := settle(rule.EvalEntity(c)); decision != Skip {
			return decision
		}
	}
	return nil
}

// EvalCollection evaluates the rules in order. It returns nil when every
// rule skipped or a rule allowed the change.
func (p CollectionPolicy) EvalCollection(c *bindgraph.CollectionChange) error {
	for _, rule := range p {
		if decision := settle(rule.EvalCollection(c)); decision != Skip {
			return decision
		}
	}
	return nil
}

// settle maps a rule result to Skip, nil (allow) or a denying error.
func settle(decision error) error {
	switch {
	case decision == nil || errors.Is(decision, Skip):
		return Skip
	case errors.Is(decision, Allow):
		return nil
	default:
		return decision
	}
}

// Policy groups entity and collection policies.
type Policy struct {
	Entity     EntityPolicy
	Collection CollectionPolicy
	// Denied, if set, receives the decision of every vetoed change.
	Denied func(error)
}

// EvalEntity forwards evaluation to the entity policy.
func (p Policy) EvalEntity(c *bindgraph.EntityChange) error {
	return p.Entity.EvalEntity(c)
}

// EvalCollection forwards evaluation to the collection policy.
func (p Policy) EvalCollection(c *bindgraph.CollectionChange) error {
	return p.Collection.EvalCollection(c)
}

// EntityChanged returns the policy as an entity interceptor.
func (p Policy) EntityChanged() bindgraph.EntityChangedFunc {
	return func(c *bindgraph.EntityChange) bool {
		return p.veto(p.EvalEntity(c))
	}
}

// CollectionChanged returns the policy as a collection interceptor.
func (p Policy) CollectionChanged() bindgraph.CollectionChangedFunc {
	return func(c *bindgraph.CollectionChange) bool {
		return p.veto(p.EvalCollection(c))
	}
}

// Options returns the observer options installing both interceptors.
// Empty policies install nothing.
func (p Policy) Options() []binding.Option {
	var opts []binding.Option
	if len(p.Entity) > 0 {
		opts = append(opts, binding.WithEntityChanged(p.EntityChanged()))
	}
	if len(p.Collection) > 0 {
		opts = append(opts, binding.WithCollectionChanged(p.CollectionChanged()))
	}
	return opts
}

func (p Policy) veto(decision error) bool {
	if decision == nil {
		return false
	}
	if p.Denied != nil {
		p.Denied(decision)
	}
	return true
}

var (
	_ Rule = Policy{}
	_ Rule = fixedDecision{}
)
