// Package rules is the declarative authorization layer in front of the
// document store.
//
// A rule set is a list of path templates. Each template maps operations to
// alternatives; an alternative is a list of conditions that must all hold,
// and an operation is allowed when any alternative of any matching rule
// holds. Paths nobody matched are denied.
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrPermissionDenied = errors.New("permission denied")

type Operation string

const (
	OpRead   Operation = "read"
	OpList   Operation = "list"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

var validOps = map[Operation]bool{OpRead: true, OpList: true, OpCreate: true, OpUpdate: true, OpDelete: true}

// Condition names. Conditions with an argument are written name:arg.
const (
	CondAuthenticated       = "authenticated"
	CondAdmin               = "admin"
	CondService             = "service"
	CondPathVarIsAuth       = "path_var_is_auth"
	CondResourceFieldIsAuth = "resource_field_is_auth"
	CondRequestFieldIsAuth  = "request_field_is_auth"
	CondResourceMissing     = "resource_missing"
	CondResourceExists      = "resource_exists"
	CondDocIDPrefixedByAuth = "doc_id_prefixed_by_auth"
	CondParentFieldIsAuth   = "parent_field_is_auth"
	CondFieldUnchanged      = "field_unchanged"

	// Conditions whose argument is field=value or field=pathVar.
	CondRequestFieldEquals    = "request_field_equals"
	CondRequestFieldNotEquals = "request_field_not_equals"
	CondRequestFieldIsPathVar = "request_field_is_path_var"

	CondResourceFieldIsNotAuth = "resource_field_is_not_auth"
)

var conditionArity = map[string]bool{
	CondAuthenticated:       false,
	CondAdmin:               false,
	CondService:             false,
	CondPathVarIsAuth:       true,
	CondResourceFieldIsAuth: true,
	CondRequestFieldIsAuth:  true,
	CondResourceMissing:     false,
	CondResourceExists:      false,
	CondDocIDPrefixedByAuth: false,
	CondParentFieldIsAuth:   true,
	CondFieldUnchanged:      true,

	CondRequestFieldEquals:     true,
	CondRequestFieldNotEquals:  true,
	CondRequestFieldIsPathVar:  true,
	CondResourceFieldIsNotAuth: true,
}

var pairConditions = map[string]bool{
	CondRequestFieldEquals:    true,
	CondRequestFieldNotEquals: true,
	CondRequestFieldIsPathVar: true,
}

// Rule grants operations on documents matching a path template such as
// users/{userId}/connections/{docId}.
type Rule struct {
	Match string                   `yaml:"match"`
	Allow map[Operation][][]string `yaml:"allow"`

	segments []string
	compiled map[Operation][][]condition
}

type condition struct {
	name string
	arg  string
}

func (c condition) String() string {
	if c.arg == "" {
		return c.name
	}
	return c.name + ":" + c.arg
}

// RuleSet is an ordered list of compiled rules.
type RuleSet struct {
	Rules []*Rule `yaml:"rules"`
}

// NewRuleSet validates and compiles rules.
func NewRuleSet(rules ...*Rule) (*RuleSet, error) {
	rs := &RuleSet{Rules: rules}
	if err := rs.compile(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Parse reads a YAML rule set.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("rules: parse: %w", err)
	}
	if err := rs.compile(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// LoadFile reads a YAML rule set from disk.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal renders the rule set back to YAML.
func (rs *RuleSet) Marshal() ([]byte, error) {
	return yaml.Marshal(rs)
}

func (rs *RuleSet) compile() error {
	if len(rs.Rules) == 0 {
		return errors.New("rules: empty rule set")
	}
	for i, r := range rs.Rules {
		if r == nil {
			return fmt.Errorf("rules: rule %d is nil", i)
		}
		if err := r.compile(); err != nil {
			return fmt.Errorf("rules: rule %d (%s): %w", i, r.Match, err)
		}
	}
	return nil
}

func (r *Rule) compile() error {
	segs := strings.Split(r.Match, "/")
	if r.Match == "" || len(segs)%2 != 0 {
		return errors.New("match must be a document path template")
	}
	for _, s := range segs {
		if s == "" {
			return errors.New("match has an empty segment")
		}
		if isVar(s) && len(s) < 3 {
			return errors.New("match has an unnamed variable")
		}
	}

	compiled := make(map[Operation][][]condition, len(r.Allow))
	for op, alternatives := range r.Allow {
		if !validOps[op] {
			return fmt.Errorf("unknown operation %q", op)
		}
		for _, alt := range alternatives {
			if len(alt) == 0 {
				return fmt.Errorf("%s has an empty alternative", op)
			}
			conds := make([]condition, 0, len(alt))
			for _, raw := range alt {
				c, err := parseCondition(raw, segs)
				if err != nil {
					return fmt.Errorf("%s: %w", op, err)
				}
				conds = append(conds, c)
			}
			compiled[op] = append(compiled[op], conds)
		}
	}

	r.segments = segs
	r.compiled = compiled
	return nil
}

func parseCondition(raw string, segments []string) (condition, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(raw), ":")
	needsArg, known := conditionArity[name]
	if !known {
		return condition{}, fmt.Errorf("unknown condition %q", raw)
	}
	if needsArg && arg == "" {
		return condition{}, fmt.Errorf("condition %q needs an argument", name)
	}
	if !needsArg && arg != "" {
		return condition{}, fmt.Errorf("condition %q takes no argument", name)
	}
	if pairConditions[name] {
		field, value, ok := strings.Cut(arg, "=")
		if !ok || field == "" || value == "" {
			return condition{}, fmt.Errorf("condition %q needs a field=value argument", name)
		}
		if name == CondRequestFieldIsPathVar && !hasVar(segments, value) {
			return condition{}, fmt.Errorf("path variable %q not in match", value)
		}
	}
	if name == CondPathVarIsAuth && !hasVar(segments, arg) {
		return condition{}, fmt.Errorf("path variable %q not in match", arg)
	}
	return condition{name: name, arg: arg}, nil
}

func hasVar(segments []string, name string) bool {
	for _, s := range segments {
		if s == "{"+name+"}" {
			return true
		}
	}
	return false
}

// match returns the captured path variables when path fits the template.
func (r *Rule) match(segments []string) (map[string]string, bool) {
	if len(segments) != len(r.segments) {
		return nil, false
	}
	vars := map[string]string{}
	for i, tmpl := range r.segments {
		if isVar(tmpl) {
			vars[tmpl[1:len(tmpl)-1]] = segments[i]
			continue
		}
		if tmpl != segments[i] {
			return nil, false
		}
	}
	return vars, true
}

func isVar(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}
