package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

func boolPtr(b bool) *bool { return &b }

func mustSet(t *testing.T, specs map[safety.PIIType]Spec) *Set {
	t.Helper()
	s, err := NewSet(specs)
	require.NoError(t, err)
	return s
}

func match(typ safety.PIIType) safety.Match {
	return safety.Match{Type: typ, Span: safety.Span{Start: 0, End: 4}, Priority: safety.PriorityPattern}
}

var allModes = []safety.Mode{safety.ModeObserve, safety.ModeWarn, safety.ModeEnforce}

func TestResolveMatrix(t *testing.T) {
	set := mustSet(t, map[safety.PIIType]Spec{
		safety.TypeCreditCard: {Action: safety.ActionBlock},
		safety.TypeEmail:      {Action: safety.ActionMask},
		safety.TypePhone:      {Action: safety.ActionLog},
		safety.TypeSSN:        {Action: safety.ActionBlock, Enabled: boolPtr(false)},
		safety.TypeAPIKey:     {Action: safety.ActionBlock, Models: &ModelRules{Allow: []string{"ollama/.*"}}},
		safety.TypeJWT:        {Action: safety.ActionBlock, Models: &ModelRules{Block: []string{"openai/.*"}}},
		safety.TypeSecret: {Action: safety.ActionBlock, Models: &ModelRules{
			Allow: []string{"openai/gpt-4o-mini"},
			Block: []string{"openai/.*"},
		}},
	})

	cases := []struct {
		name    string
		typ     safety.PIIType
		model   string
		mode    safety.Mode
		action  safety.Action
		reason  Reason
		warning bool
	}{
		{"block enforce", safety.TypeCreditCard, "openai/gpt-4", safety.ModeEnforce, safety.ActionBlock, ReasonDirect, false},
		{"block warn", safety.TypeCreditCard, "openai/gpt-4", safety.ModeWarn, safety.ActionMask, ReasonModeDowngrade, true},
		{"block observe", safety.TypeCreditCard, "openai/gpt-4", safety.ModeObserve, safety.ActionLog, ReasonModeDowngrade, false},
		{"mask enforce", safety.TypeEmail, "x", safety.ModeEnforce, safety.ActionMask, ReasonDirect, false},
		{"mask warn unchanged", safety.TypeEmail, "x", safety.ModeWarn, safety.ActionMask, ReasonDirect, false},
		{"mask observe", safety.TypeEmail, "x", safety.ModeObserve, safety.ActionLog, ReasonModeDowngrade, false},
		{"log observe", safety.TypePhone, "x", safety.ModeObserve, safety.ActionLog, ReasonDirect, false},
		{"disabled", safety.TypeSSN, "x", safety.ModeEnforce, safety.ActionLog, ReasonDisabled, false},
		{"no policy", safety.TypeIBAN, "x", safety.ModeEnforce, safety.ActionLog, ReasonNoPolicy, false},
		{"allow list skips", safety.TypeAPIKey, "ollama/qwen3:0.6b", safety.ModeEnforce, safety.ActionLog, ReasonModelSkip, false},
		{"allow list miss applies", safety.TypeAPIKey, "openai/gpt-4", safety.ModeEnforce, safety.ActionBlock, ReasonDirect, false},
		{"allow list is full match", safety.TypeAPIKey, "my-ollama/x", safety.ModeEnforce, safety.ActionBlock, ReasonDirect, false},
		{"block list miss skips", safety.TypeJWT, "anthropic/claude", safety.ModeEnforce, safety.ActionLog, ReasonModelSkip, false},
		{"block list hit applies", safety.TypeJWT, "openai/gpt-4", safety.ModeEnforce, safety.ActionBlock, ReasonDirect, false},
		{"allow wins over block", safety.TypeSecret, "openai/gpt-4o-mini", safety.ModeEnforce, safety.ActionLog, ReasonModelSkip, false},
		{"block list with allow miss", safety.TypeSecret, "openai/gpt-4", safety.ModeEnforce, safety.ActionBlock, ReasonDirect, false},
		{"neither list matches", safety.TypeSecret, "mistral/large", safety.ModeEnforce, safety.ActionLog, ReasonModelSkip, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Resolve(match(tc.typ), tc.model, set, tc.mode)
			assert.Equal(t, tc.action, d.Action)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.warning, d.Warning)
			assert.Equal(t, tc.typ, d.Match.Type)
		})
	}
}

func TestResolveObserveNeverAlters(t *testing.T) {
	set := Defaults()
	for _, typ := range safety.KnownTypes {
		for _, model := range []string{"", "openai/gpt-4", "ollama/llama3"} {
			d := Resolve(match(typ), model, set, safety.ModeObserve)
			assert.Equal(t, safety.ActionLog, d.Action, "%s on %s", typ, model)
		}
	}
}

func TestDefaultsCoverKnownTypes(t *testing.T) {
	set := Defaults()
	for _, typ := range safety.KnownTypes {
		require.NotNil(t, set.Lookup(typ), typ)
	}
	assert.Equal(t, safety.ActionBlock, set.Lookup(safety.TypeCreditCard).Action)
	assert.Equal(t, safety.ActionMask, set.Lookup(safety.TypeEmail).Action)
	assert.Equal(t, len(safety.KnownTypes), set.Len())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(safety.TypeEmail, Spec{Action: "shred"})
	assert.Error(t, err)

	_, err = New(safety.TypeEmail, Spec{Action: safety.ActionMask, Models: &ModelRules{Allow: []string{"("}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models.allow")

	_, err = NewSet(map[safety.PIIType]Spec{"passport": {Action: safety.ActionBlock}})
	assert.Error(t, err)
}

func TestResolveAllPreservesOrder(t *testing.T) {
	ms := []safety.Match{match(safety.TypeEmail), match(safety.TypeCreditCard), match(safety.TypePhone)}
	ds := ResolveAll(ms, "openai/gpt-4", Defaults(), safety.ModeEnforce)
	require.Len(t, ds, 3)
	for i := range ms {
		assert.Equal(t, ms[i].Type, ds[i].Match.Type)
	}
	assert.Equal(t, safety.ActionBlock, MostSevere(ds))
	assert.Equal(t, safety.ActionLog, MostSevere(nil))
}

func TestNilSet(t *testing.T) {
	d := Resolve(match(safety.TypeEmail), "m", nil, safety.ModeEnforce)
	assert.Equal(t, safety.ActionLog, d.Action)
	assert.Equal(t, ReasonNoPolicy, d.Reason)
	for _, mode := range allModes {
		assert.Equal(t, safety.ActionLog, Resolve(match(safety.TypeSSN), "m", nil, mode).Action)
	}
}
