package store

import (
	"context"
	"fmt"
	"slices"
)

// DeletePhase is the group a delete rule runs in.
type DeletePhase int

const (
	// Deny rules run first and may veto the delete before any side effect.
	Deny DeletePhase = iota + 1
	// Pre rules run after every deny rule passed, typically cascading.
	Pre
)

func (p DeletePhase) String() string {
	switch p {
	case Deny:
		return "deny"
	case Pre:
		return "pre"
	}
	return fmt.Sprintf("delete-phase(%d)", int(p))
}

// ValidatorPhase selects the mutations a validator runs for.
type ValidatorPhase int

const (
	// OnInsert validators run for inserts only.
	OnInsert ValidatorPhase = iota + 1
	// OnUpdate validators run for updates only.
	OnUpdate
	// OnInsertUpdate validators run for both.
	OnInsertUpdate
)

func (p ValidatorPhase) String() string {
	switch p {
	case OnInsert:
		return "insert"
	case OnUpdate:
		return "update"
	case OnInsertUpdate:
		return "insert-update"
	}
	return fmt.Sprintf("validator-phase(%d)", int(p))
}

// Matches reports whether the validator phase applies to the mutation kind.
func (p ValidatorPhase) Matches(kind MutationKind) bool {
	switch p {
	case OnInsertUpdate:
		return kind == KindInsert || kind == KindUpdate
	case OnInsert:
		return kind == KindInsert
	case OnUpdate:
		return kind == KindUpdate
	}
	return false
}

// DeleteRuleFunc runs before documents with the given ids are deleted. The
// session is the one the delete runs in; nested service calls must pass it on.
type DeleteRuleFunc func(ctx context.Context, svc *Service, sess Session, ids []ID) error

// ValidatorFunc checks an insert or update before it is written.
type ValidatorFunc func(ctx context.Context, svc *Service, m *Mutation) error

// DeleteRule is a registered delete hook.
type DeleteRule struct {
	Name    string
	Phase   DeletePhase
	Handler DeleteRuleFunc
	// Owner is the name of the Rules that declared (or last overrode) the rule.
	Owner string
}

// Validator is a registered validation hook.
type Validator struct {
	Name    string
	Phase   ValidatorPhase
	Handler ValidatorFunc
	Owner   string
}

type declKind int

const (
	declDelete declKind = iota + 1
	declValidator
)

type declaration struct {
	kind      declKind
	override  bool
	name      string
	delete    DeleteRule
	validator Validator
}

// Rules declares the hooks of one entity type. A Rules may extend a parent,
// inheriting all of the parent's hooks. Declarations are collected in order
// and checked when Build is called.
type Rules struct {
	name   string
	parent *Rules
	decls  []declaration
}

// NewRules starts the declaration of an entity type's rules.
func NewRules(name string) *Rules {
	return &Rules{name: name}
}

// Name returns the declared type name.
func (r *Rules) Name() string {
	return r.name
}

// Extends declares parent as the ancestor of r.
func (r *Rules) Extends(parent *Rules) *Rules {
	r.parent = parent
	return r
}

// DeleteRule declares a delete rule.
func (r *Rules) DeleteRule(name string, phase DeletePhase, fn DeleteRuleFunc) *Rules {
	r.decls = append(r.decls, declaration{
		kind:   declDelete,
		name:   name,
		delete: DeleteRule{Name: name, Phase: phase, Handler: fn, Owner: r.name},
	})
	return r
}

// Validator declares a validator.
func (r *Rules) Validator(name string, phase ValidatorPhase, fn ValidatorFunc) *Rules {
	r.decls = append(r.decls, declaration{
		kind:      declValidator,
		name:      name,
		validator: Validator{Name: name, Phase: phase, Handler: fn, Owner: r.name},
	})
	return r
}

// OverrideDeleteRule replaces the handler of a delete rule declared by an
// ancestor. The rule keeps its phase and position.
func (r *Rules) OverrideDeleteRule(name string, fn DeleteRuleFunc) *Rules {
	r.decls = append(r.decls, declaration{
		kind:     declDelete,
		override: true,
		name:     name,
		delete:   DeleteRule{Name: name, Handler: fn, Owner: r.name},
	})
	return r
}

// OverrideValidator replaces the handler of a validator declared by an
// ancestor. The validator keeps its phase and position.
func (r *Rules) OverrideValidator(name string, fn ValidatorFunc) *Rules {
	r.decls = append(r.decls, declaration{
		kind:      declValidator,
		override:  true,
		name:      name,
		validator: Validator{Name: name, Handler: fn, Owner: r.name},
	})
	return r
}

// chain returns r's ancestors root-first, ending with r.
func (r *Rules) chain() ([]*Rules, error) {
	var chain []*Rules
	seen := map[*Rules]bool{}
	for cur := r; cur != nil; cur = cur.parent {
		if seen[cur] {
			return nil, &ConfigurationError{Entity: r.name, Reason: fmt.Sprintf("inheritance cycle through %q", cur.name)}
		}
		seen[cur] = true
		chain = append(chain, cur)
	}
	slices.Reverse(chain)
	return chain, nil
}

// Build resolves the inheritance chain into an immutable Registry. Rules are
// ordered ancestors first, then by declaration order. Repeating a name
// anywhere in the chain is an error unless the later declaration is an
// explicit override.
func (r *Rules) Build() (*Registry, error) {
	chain, err := r.chain()
	if err != nil {
		return nil, err
	}

	reg := &Registry{name: r.name}
	deleteIdx := map[string]int{}
	validatorIdx := map[string]int{}

	for _, rules := range chain {
		for _, d := range rules.decls {
			if d.name == "" {
				return nil, &ConfigurationError{Entity: r.name, Reason: fmt.Sprintf("unnamed rule declared by %q", rules.name)}
			}
			switch d.kind {
			case declDelete:
				if err := reg.addDeleteRule(rules.name, d, deleteIdx); err != nil {
					return nil, err
				}
			case declValidator:
				if err := reg.addValidator(rules.name, d, validatorIdx); err != nil {
					return nil, err
				}
			}
		}
	}
	return reg, nil
}

// MustBuild is like Build but panics on a configuration error.
func (r *Rules) MustBuild() *Registry {
	reg, err := r.Build()
	if err != nil {
		panic(err)
	}
	return reg
}

func (reg *Registry) addDeleteRule(owner string, d declaration, idx map[string]int) error {
	rule := d.delete
	if rule.Handler == nil {
		return &ConfigurationError{Entity: reg.name, Rule: d.name, Reason: "nil handler"}
	}
	i, exists := idx[d.name]
	if d.override {
		if !exists {
			return &ConfigurationError{Entity: reg.name, Rule: d.name, Reason: "override of a delete rule no ancestor declares"}
		}
		if reg.deleteRules[i].Owner == owner {
			return &ConfigurationError{Entity: reg.name, Rule: d.name, Reason: fmt.Sprintf("%q overrides its own delete rule", owner)}
		}
		reg.deleteRules[i].Handler = rule.Handler
		reg.deleteRules[i].Owner = owner
		return nil
	}
	if exists {
		return &ConfigurationError{
			Entity: reg.name,
			Rule:   d.name,
			Reason: fmt.Sprintf("delete rule declared by both %q and %q", reg.deleteRules[i].Owner, owner),
		}
	}
	if rule.Phase != Deny && rule.Phase != Pre {
		return &ConfigurationError{Entity: reg.name, Rule: d.name, Reason: fmt.Sprintf("unknown phase %s", rule.Phase)}
	}
	idx[d.name] = len(reg.deleteRules)
	reg.deleteRules = append(reg.deleteRules, rule)
	return nil
}

func (reg *Registry) addValidator(owner string, d declaration, idx map[string]int) error {
	v := d.validator
	if v.Handler == nil {
		return &ConfigurationError{Entity: reg.name, Rule: d.name, Reason: "nil handler"}
	}
	i, exists := idx[d.name]
	if d.override {
		if !exists {
			return &ConfigurationError{Entity: reg.name, Rule: d.name, Reason: "override of a validator no ancestor declares"}
		}
		if reg.validators[i].Owner == owner {
			return &ConfigurationError{Entity: reg.name, Rule: d.name, Reason: fmt.Sprintf("%q overrides its own validator", owner)}
		}
		reg.validators[i].Handler = v.Handler
		reg.validators[i].Owner = owner
		return nil
	}
	if exists {
		return &ConfigurationError{
			Entity: reg.name,
			Rule:   d.name,
			Reason: fmt.Sprintf("validator declared by both %q and %q", reg.validators[i].Owner, owner),
		}
	}
	switch v.Phase {
	case OnInsert, OnUpdate, OnInsertUpdate:
	default:
		return &ConfigurationError{Entity: reg.name, Rule: d.name, Reason: fmt.Sprintf("unknown phase %s", v.Phase)}
	}
	idx[d.name] = len(reg.validators)
	reg.validators = append(reg.validators, v)
	return nil
}

// Registry is the resolved, immutable rule set of an entity type. It is safe
// for concurrent use.
type Registry struct {
	name        string
	deleteRules []DeleteRule
	validators  []Validator
}

// Name returns the entity type name the registry was built for.
func (reg *Registry) Name() string {
	if reg == nil {
		return ""
	}
	return reg.name
}

// DeleteRules returns the delete rules of the given phase in registry order.
func (reg *Registry) DeleteRules(phase DeletePhase) []DeleteRule {
	if reg == nil {
		return nil
	}
	var out []DeleteRule
	for _, r := range reg.deleteRules {
		if r.Phase == phase {
			out = append(out, r)
		}
	}
	return out
}

// Validators returns the validators applicable to kind in registry order.
func (reg *Registry) Validators(kind MutationKind) []Validator {
	if reg == nil {
		return nil
	}
	var out []Validator
	for _, v := range reg.validators {
		if v.Phase.Matches(kind) {
			out = append(out, v)
		}
	}
	return out
}

// DeleteRuleNames returns every delete rule name in registry order.
func (reg *Registry) DeleteRuleNames() []string {
	if reg == nil {
		return nil
	}
	names := make([]string, len(reg.deleteRules))
	for i, r := range reg.deleteRules {
		names[i] = r.Name
	}
	return names
}

// ValidatorNames returns every validator name in registry order.
func (reg *Registry) ValidatorNames() []string {
	if reg == nil {
		return nil
	}
	names := make([]string, len(reg.validators))
	for i, v := range reg.validators {
		names[i] = v.Name
	}
	return names
}

// HasDeleteRules reports whether any delete rule is registered.
func (reg *Registry) HasDeleteRules() bool {
	return reg != nil && len(reg.deleteRules) > 0
}
