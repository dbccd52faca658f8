package store_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/store"
)

func noopDelete(context.Context, *store.Service, store.Session, []store.ID) error { return nil }

func noopValidator(context.Context, *store.Service, *store.Mutation) error { return nil }

func TestRules_Build_Order(t *testing.T) {
	base := store.NewRules("base").
		DeleteRule("b_deny", store.Deny, noopDelete).
		DeleteRule("b_pre", store.Pre, noopDelete).
		Validator("b_valid", store.OnInsertUpdate, noopValidator)

	mid := store.NewRules("mid").Extends(base).
		DeleteRule("m_pre", store.Pre, noopDelete).
		Validator("m_valid", store.OnInsert, noopValidator)

	leaf := store.NewRules("leaf").Extends(mid).
		DeleteRule("l_deny", store.Deny, noopDelete).
		Validator("l_valid", store.OnUpdate, noopValidator)

	reg, err := leaf.Build()
	require.NoError(t, err)

	assert.Equal(t, "leaf", reg.Name())
	assert.Equal(t, []string{"b_deny", "b_pre", "m_pre", "l_deny"}, reg.DeleteRuleNames())
	assert.Equal(t, []string{"b_valid", "m_valid", "l_valid"}, reg.ValidatorNames())

	names := func(rules []store.DeleteRule) []string {
		var out []string
		for _, r := range rules {
			out = append(out, r.Name)
		}
		return out
	}
	assert.Equal(t, []string{"b_deny", "l_deny"}, names(reg.DeleteRules(store.Deny)))
	assert.Equal(t, []string{"b_pre", "m_pre"}, names(reg.DeleteRules(store.Pre)))

	vnames := func(vs []store.Validator) []string {
		var out []string
		for _, v := range vs {
			out = append(out, v.Name)
		}
		return out
	}
	assert.Equal(t, []string{"b_valid", "m_valid"}, vnames(reg.Validators(store.KindInsert)))
	assert.Equal(t, []string{"b_valid", "l_valid"}, vnames(reg.Validators(store.KindUpdate)))
}

func TestRules_Build_DoesNotMutateParent(t *testing.T) {
	base := store.NewRules("base").DeleteRule("cascade", store.Pre, noopDelete)
	_ = store.NewRules("child").Extends(base).DeleteRule("extra", store.Pre, noopDelete).MustBuild()

	reg := base.MustBuild()
	assert.Equal(t, []string{"cascade"}, reg.DeleteRuleNames())
}

func TestRules_Build_DuplicateName(t *testing.T) {
	tests := []struct {
		name  string
		rules func() *store.Rules
	}{
		{
			name: "same declarer",
			rules: func() *store.Rules {
				return store.NewRules("node").
					DeleteRule("cascade", store.Pre, noopDelete).
					DeleteRule("cascade", store.Pre, noopDelete)
			},
		},
		{
			name: "inherited delete rule",
			rules: func() *store.Rules {
				base := store.NewRules("base").DeleteRule("cascade", store.Pre, noopDelete)
				return store.NewRules("child").Extends(base).DeleteRule("cascade", store.Pre, noopDelete)
			},
		},
		{
			name: "inherited name in another phase",
			rules: func() *store.Rules {
				base := store.NewRules("base").DeleteRule("guard", store.Deny, noopDelete)
				return store.NewRules("child").Extends(base).DeleteRule("guard", store.Pre, noopDelete)
			},
		},
		{
			name: "inherited validator",
			rules: func() *store.Rules {
				base := store.NewRules("base").Validator("name", store.OnInsert, noopValidator)
				return store.NewRules("child").Extends(base).Validator("name", store.OnUpdate, noopValidator)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rules().Build()
			var ce *store.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.NotEmpty(t, ce.Rule)
		})
	}
}

func TestRules_Build_SameNameAcrossKinds(t *testing.T) {
	// Delete rules and validators live in separate namespaces.
	reg, err := store.NewRules("node").
		DeleteRule("parent", store.Pre, noopDelete).
		Validator("parent", store.OnInsert, noopValidator).
		Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"parent"}, reg.DeleteRuleNames())
	assert.Equal(t, []string{"parent"}, reg.ValidatorNames())
}

func TestRules_Build_Override(t *testing.T) {
	var called []string
	record := func(name string) store.DeleteRuleFunc {
		return func(context.Context, *store.Service, store.Session, []store.ID) error {
			called = append(called, name)
			return nil
		}
	}

	base := store.NewRules("base").
		DeleteRule("first", store.Deny, record("base.first")).
		DeleteRule("second", store.Pre, record("base.second"))
	child := store.NewRules("child").Extends(base).
		OverrideDeleteRule("first", record("child.first"))

	reg, err := child.Build()
	require.NoError(t, err)

	// Position and phase are kept; only the handler changes.
	assert.Equal(t, []string{"first", "second"}, reg.DeleteRuleNames())
	deny := reg.DeleteRules(store.Deny)
	require.Len(t, deny, 1)
	assert.Equal(t, "child", deny[0].Owner)

	for _, phase := range []store.DeletePhase{store.Deny, store.Pre} {
		for _, r := range reg.DeleteRules(phase) {
			require.NoError(t, r.Handler(context.Background(), nil, nil, nil))
		}
	}
	assert.Equal(t, []string{"child.first", "base.second"}, called)
}

func TestRules_Build_OverrideValidator(t *testing.T) {
	errCustom := errors.New("custom")
	base := store.NewRules("base").Validator("check", store.OnInsertUpdate, noopValidator)
	child := store.NewRules("child").Extends(base).
		OverrideValidator("check", func(context.Context, *store.Service, *store.Mutation) error { return errCustom })

	reg, err := child.Build()
	require.NoError(t, err)

	vs := reg.Validators(store.KindUpdate)
	require.Len(t, vs, 1)
	assert.Equal(t, store.OnInsertUpdate, vs[0].Phase)
	assert.ErrorIs(t, vs[0].Handler(context.Background(), nil, nil), errCustom)
}

func TestRules_Build_Errors(t *testing.T) {
	tests := []struct {
		name  string
		rules func() *store.Rules
	}{
		{
			name: "override without ancestor",
			rules: func() *store.Rules {
				return store.NewRules("node").OverrideDeleteRule("missing", noopDelete)
			},
		},
		{
			name: "override own rule",
			rules: func() *store.Rules {
				return store.NewRules("node").
					DeleteRule("cascade", store.Pre, noopDelete).
					OverrideDeleteRule("cascade", noopDelete)
			},
		},
		{
			name: "validator override without ancestor",
			rules: func() *store.Rules {
				return store.NewRules("node").OverrideValidator("missing", noopValidator)
			},
		},
		{
			name: "unnamed rule",
			rules: func() *store.Rules {
				return store.NewRules("node").DeleteRule("", store.Pre, noopDelete)
			},
		},
		{
			name: "nil handler",
			rules: func() *store.Rules {
				return store.NewRules("node").Validator("v", store.OnInsert, nil)
			},
		},
		{
			name: "unknown delete phase",
			rules: func() *store.Rules {
				return store.NewRules("node").DeleteRule("r", store.DeletePhase(9), noopDelete)
			},
		},
		{
			name: "unknown validator phase",
			rules: func() *store.Rules {
				return store.NewRules("node").Validator("v", store.ValidatorPhase(0), noopValidator)
			},
		},
		{
			name: "inheritance cycle",
			rules: func() *store.Rules {
				a := store.NewRules("a")
				b := store.NewRules("b").Extends(a)
				a.Extends(b)
				return b
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rules().Build()
			var ce *store.ConfigurationError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestRules_MustBuild_Panics(t *testing.T) {
	assert.Panics(t, func() {
		store.NewRules("node").
			Validator("v", store.OnInsert, noopValidator).
			Validator("v", store.OnInsert, noopValidator).
			MustBuild()
	})
}

func TestRegistry_Nil(t *testing.T) {
	var reg *store.Registry
	assert.Empty(t, reg.Name())
	assert.Nil(t, reg.DeleteRules(store.Pre))
	assert.Nil(t, reg.Validators(store.KindInsert))
	assert.False(t, reg.HasDeleteRules())
}

func TestValidatorPhase_Matches(t *testing.T) {
	tests := []struct {
		phase  store.ValidatorPhase
		insert bool
		update bool
	}{
		{store.OnInsert, true, false},
		{store.OnUpdate, false, true},
		{store.OnInsertUpdate, true, true},
		{store.ValidatorPhase(0), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			assert.Equal(t, tt.insert, tt.phase.Matches(store.KindInsert))
			assert.Equal(t, tt.update, tt.phase.Matches(store.KindUpdate))
		})
	}
}

func TestRelationship_Apply(t *testing.T) {
	org := store.NewRules("organization")
	studio := store.NewRules("studio")
	store.Relationship{Parent: "organization", Child: "studio", ParentKey: "organization_id", OnDelete: store.Protect}.Apply(org, studio)

	orgReg := org.MustBuild()
	studioReg := studio.MustBuild()

	assert.Equal(t, []string{"protect:studio.organization_id"}, orgReg.DeleteRuleNames())
	assert.Len(t, orgReg.DeleteRules(store.Deny), 1)
	assert.Equal(t, []string{"parent_exists:organization_id"}, studioReg.ValidatorNames())
}

func TestRelationship_Apply_SelfReference(t *testing.T) {
	node := store.NewRules("node")
	store.Relationship{Parent: store.Self, Child: store.Self, ParentKey: "parent", OnDelete: store.Cascade}.Apply(node, node)

	reg := node.MustBuild()
	assert.Equal(t, []string{"cascade:parent"}, reg.DeleteRuleNames())
	assert.True(t, slices.Contains(reg.ValidatorNames(), "not_self_reference:parent"))
	assert.True(t, slices.Contains(reg.ValidatorNames(), "parent_exists:parent"))
}
