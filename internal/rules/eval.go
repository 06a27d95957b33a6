package rules

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Request describes one document operation to authorize.
type Request struct {
	Auth *Auth
	Op   Operation
	Path string
	// Resource is the stored document, nil when it does not exist.
	Resource map[string]interface{}
	// Data is the document as it would be after a create or update.
	Data map[string]interface{}
}

// ParentLoader fetches a document's fields for parent_field_is_auth.
// It returns nil fields when the document does not exist.
type ParentLoader func(ctx context.Context, path string) (map[string]interface{}, error)

// Decision is the evaluation outcome. Rule and Alternative identify the grant.
type Decision struct {
	Allowed     bool
	Rule        string
	Alternative []string
}

// Evaluate authorizes req against every matching rule.
func (rs *RuleSet) Evaluate(ctx context.Context, req *Request, load ParentLoader) (Decision, error) {
	segments := strings.Split(req.Path, "/")

	ev := &evaluation{ctx: ctx, req: req, load: load, segments: segments}
	for _, r := range rs.Rules {
		vars, ok := r.match(segments)
		if !ok {
			continue
		}
		ev.vars = vars
		for _, alt := range r.compiled[req.Op] {
			ok, err := ev.all(alt)
			if err != nil {
				return Decision{}, err
			}
			if ok {
				names := make([]string, len(alt))
				for i, c := range alt {
					names[i] = c.String()
				}
				return Decision{Allowed: true, Rule: r.Match, Alternative: names}, nil
			}
		}
	}
	return Decision{}, nil
}

type evaluation struct {
	ctx      context.Context
	req      *Request
	load     ParentLoader
	segments []string
	vars     map[string]string

	parentLoaded bool
	parent       map[string]interface{}
}

func (ev *evaluation) all(conds []condition) (bool, error) {
	for _, c := range conds {
		ok, err := ev.check(c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (ev *evaluation) check(c condition) (bool, error) {
	auth := ev.req.Auth
	uid := ""
	if auth != nil {
		uid = auth.UID
	}

	switch c.name {
	case CondAuthenticated:
		return uid != "", nil
	case CondAdmin:
		return auth.IsAdmin(), nil
	case CondService:
		return auth != nil && auth.Service, nil
	case CondPathVarIsAuth:
		return uid != "" && ev.vars[c.arg] == uid, nil
	case CondResourceFieldIsAuth:
		return uid != "" && fieldEquals(ev.req.Resource, c.arg, uid), nil
	case CondRequestFieldIsAuth:
		return uid != "" && fieldEquals(ev.req.Data, c.arg, uid), nil
	case CondResourceMissing:
		return ev.req.Resource == nil, nil
	case CondResourceExists:
		return ev.req.Resource != nil, nil
	case CondDocIDPrefixedByAuth:
		id := ev.segments[len(ev.segments)-1]
		return uid != "" && len(id) > len(uid)+1 && strings.HasPrefix(id, uid+"_"), nil
	case CondParentFieldIsAuth:
		if uid == "" {
			return false, nil
		}
		parent, err := ev.parentDoc()
		if err != nil {
			return false, err
		}
		return fieldEquals(parent, c.arg, uid), nil
	case CondResourceFieldIsNotAuth:
		return uid != "" && !fieldEquals(ev.req.Resource, c.arg, uid), nil
	case CondRequestFieldEquals:
		field, value, _ := strings.Cut(c.arg, "=")
		return fieldEquals(ev.req.Data, field, value), nil
	case CondRequestFieldNotEquals:
		field, value, _ := strings.Cut(c.arg, "=")
		return !fieldEquals(ev.req.Data, field, value), nil
	case CondRequestFieldIsPathVar:
		field, name, _ := strings.Cut(c.arg, "=")
		v := ev.vars[name]
		return v != "" && fieldEquals(ev.req.Data, field, v), nil
	case CondFieldUnchanged:
		if ev.req.Resource == nil {
			return true, nil
		}
		return reflect.DeepEqual(ev.req.Resource[c.arg], ev.req.Data[c.arg]), nil
	}
	return false, fmt.Errorf("rules: unhandled condition %q", c.name)
}

func (ev *evaluation) parentDoc() (map[string]interface{}, error) {
	if ev.parentLoaded {
		return ev.parent, nil
	}
	ev.parentLoaded = true
	if ev.load == nil || len(ev.segments) < 4 {
		return nil, nil
	}
	parent, err := ev.load(ev.ctx, strings.Join(ev.segments[:len(ev.segments)-2], "/"))
	if err != nil {
		return nil, err
	}
	ev.parent = parent
	return parent, nil
}

func fieldEquals(doc map[string]interface{}, field, want string) bool {
	if doc == nil {
		return false
	}
	v, ok := doc[field].(string)
	return ok && v == want
}
