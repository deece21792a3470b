package policy

import (
	"slices"

	"github.com/syssam/bindgraph"
)

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() Rule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() Rule {
	return fixedDecision{Deny}
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalEntity(*bindgraph.EntityChange) error {
	return f.decision
}

func (f fixedDecision) EvalCollection(*bindgraph.CollectionChange) error {
	return f.decision
}

// OnAction evaluates the given rule only for the given collection actions.
func OnAction(rule CollectionRule, actions ...bindgraph.CollectionAction) CollectionRule {
	return CollectionRuleFunc(func(c *bindgraph.CollectionChange) error {
		if slices.Contains(actions, c.Action) {
			return rule.EvalCollection(c)
		}
		return Skip
	})
}

// DenyActionRule returns a rule denying the given collection action.
func DenyActionRule(action bindgraph.CollectionAction) CollectionRule {
	rule := CollectionRuleFunc(func(c *bindgraph.CollectionChange) error {
		return Denyf("policy: collection action %s is not allowed", c.Action)
	})
	return OnAction(rule, action)
}

// OnProperty evaluates the given rule only for changes of the named
// properties.
func OnProperty(rule EntityRule, names ...string) EntityRule {
	return EntityRuleFunc(func(c *bindgraph.EntityChange) error {
		if slices.Contains(names, c.PropertyName) {
			return rule.EvalEntity(c)
		}
		return Skip
	})
}

// ReadOnlyProperty returns a rule denying changes of the named properties.
func ReadOnlyProperty(names ...string) EntityRule {
	rule := EntityRuleFunc(func(c *bindgraph.EntityChange) error {
		return Denyf("policy: property %s is read-only", c.PropertyName)
	})
	return OnProperty(rule, names...)
}

// DenyEntitySet returns a rule denying changes whose source or target
// belongs to one of the named entity sets.
func DenyEntitySet(sets ...string) Rule {
	deny := func(source, target string) error {
		for _, s := range []string{source, target} {
			if s != "" && slices.Contains(sets, s) {
				return Denyf("policy: entity set %s is read-only", s)
			}
		}
		return Skip
	}
	return ruleFuncs{
		entity: func(c *bindgraph.EntityChange) error {
			return deny(c.SourceEntitySet, c.TargetEntitySet)
		},
		collection: func(c *bindgraph.CollectionChange) error {
			return deny(c.SourceEntitySet, c.TargetEntitySet)
		},
	}
}

type ruleFuncs struct {
	entity     EntityRuleFunc
	collection CollectionRuleFunc
}

func (r ruleFuncs) EvalEntity(c *bindgraph.EntityChange) error {
	return r.entity(c)
}

func (r ruleFuncs) EvalCollection(c *bindgraph.CollectionChange) error {
	return r.collection(c)
}
