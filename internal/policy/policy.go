// Package policy turns detected matches into effective actions: per-type
// policy, model-aware overrides, then the operational mode.
package policy

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

// ModelRules restricts a policy to some destination models. Patterns are
// full-match regular expressions over the model identifier.
type ModelRules struct {
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Block []string `yaml:"block,omitempty" json:"block,omitempty"`
}

// Spec is the declarative form of a policy as it appears in configuration.
type Spec struct {
	Action  safety.Action `yaml:"action" json:"action"`
	Enabled *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Models  *ModelRules   `yaml:"models,omitempty" json:"models,omitempty"`
}

// IsEnabled defaults to true when unset.
func (s Spec) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Policy is the compiled, immutable rule for one PII type.
type Policy struct {
	Type    safety.PIIType
	Action  safety.Action
	Enabled bool
	Models  *ModelRules

	allow []*regexp.Regexp
	block []*regexp.Regexp
}

// New compiles a policy. Model patterns are compiled once here; an invalid
// pattern fails construction.
func New(typ safety.PIIType, spec Spec) (*Policy, error) {
	action, err := safety.ParseAction(string(spec.Action))
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", typ, err)
	}
	p := &Policy{
		Type:    typ,
		Action:  action,
		Enabled: spec.IsEnabled(),
	}
	if spec.Models != nil {
		rules := *spec.Models
		p.Models = &rules
		if p.allow, err = compileAll(typ, "allow", rules.Allow); err != nil {
			return nil, err
		}
		if p.block, err = compileAll(typ, "block", rules.Block); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func compileAll(typ safety.PIIType, list string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile(`^(?:` + pat + `)$`)
		if err != nil {
			return nil, fmt.Errorf("policy %s: models.%s pattern %q: %w", typ, list, pat, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// AppliesTo reports whether the policy is enforced for modelID. A matching
// allow pattern skips the policy. A block list, when present, limits
// enforcement to the models it matches. Allow is checked first.
func (p *Policy) AppliesTo(modelID string) bool {
	for _, re := range p.allow {
		if re.MatchString(modelID) {
			return false
		}
	}
	if len(p.block) == 0 {
		return true
	}
	for _, re := range p.block {
		if re.MatchString(modelID) {
			return true
		}
	}
	return false
}

// Set maps PII types to compiled policies. A Set is immutable and safe to
// share between requests.
type Set struct {
	byType map[safety.PIIType]*Policy
}

// NewSet compiles every spec. Unknown PII types are rejected.
func NewSet(specs map[safety.PIIType]Spec) (*Set, error) {
	s := &Set{byType: make(map[safety.PIIType]*Policy, len(specs))}
	for typ, spec := range specs {
		if !typ.Known() {
			return nil, fmt.Errorf("policy for unknown pii type %q", typ)
		}
		p, err := New(typ, spec)
		if err != nil {
			return nil, err
		}
		s.byType[typ] = p
	}
	return s, nil
}

// Lookup returns nil when no policy is configured for typ.
func (s *Set) Lookup(typ safety.PIIType) *Policy {
	if s == nil {
		return nil
	}
	return s.byType[typ]
}

// Types lists the configured types in sorted order.
func (s *Set) Types() []safety.PIIType {
	if s == nil {
		return nil
	}
	out := make([]safety.PIIType, 0, len(s.byType))
	for t := range s.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of configured policies.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byType)
}

// DefaultSpecs is the built-in policy table: credentials and financial
// identifiers block, contact and entity data is masked.
func DefaultSpecs() map[safety.PIIType]Spec {
	specs := make(map[safety.PIIType]Spec)
	for _, t := range []safety.PIIType{
		safety.TypeCreditCard,
		safety.TypeSSN,
		safety.TypeAPIKey,
		safety.TypePrivateKey,
		safety.TypeJWT,
		safety.TypeDatabaseURL,
		safety.TypeCloudCredential,
		safety.TypeSecret,
	} {
		specs[t] = Spec{Action: safety.ActionBlock}
	}
	for _, t := range []safety.PIIType{
		safety.TypeEmail,
		safety.TypePhone,
		safety.TypeIPAddress,
		safety.TypeIBAN,
		safety.TypePersonName,
		safety.TypeLocation,
		safety.TypeOrganization,
		safety.TypeDateOfBirth,
		safety.TypeHighEntropySecret,
	} {
		specs[t] = Spec{Action: safety.ActionMask}
	}
	return specs
}

// Defaults returns the compiled default set.
func Defaults() *Set {
	s, err := NewSet(DefaultSpecs())
	if err != nil {
		panic("policy: default set does not compile: " + err.Error())
	}
	return s
}
