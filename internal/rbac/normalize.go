package rbac

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/marcoraddatz/entrust/internal/shared"
)

// NormalizeTarget extracts an identity from an attach/detach target. A
// target may be an identity value, an entity reference, or a record shaped
// like {id: ...}; anything else fails fast with ErrInvalidArgument.
func NormalizeTarget(target any) (int64, error) {
	switch v := target.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		// JSON numbers decode as float64; only integral values identify.
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: target id %v is not integral", shared.ErrInvalidArgument, v)
		}
		return int64(v), nil
	case Identifiable:
		return v.GetID(), nil
	case map[string]any:
		id, ok := v["id"]
		if !ok {
			return 0, fmt.Errorf("%w: target record has no id", shared.ErrInvalidArgument)
		}
		if _, nested := id.(map[string]any); nested {
			return 0, fmt.Errorf("%w: target record id must be scalar", shared.ErrInvalidArgument)
		}
		return NormalizeTarget(id)
	}
	return 0, fmt.Errorf("%w: unsupported target type %T", shared.ErrInvalidArgument, target)
}

// NormalizeTargets normalizes a batch of targets before any write happens.
func NormalizeTargets(targets []any) ([]int64, error) {
	ids := make([]int64, 0, len(targets))
	for _, t := range targets {
		id, err := NormalizeTarget(t)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NormalizeNames accepts a single name, a comma-separated string, or a
// list, and returns a cleaned slice. Names are NFC-normalized; case is
// never folded because role matching is case-sensitive.
func NormalizeNames(names any) ([]string, error) {
	switch v := names.(type) {
	case nil:
		return nil, nil
	case string:
		return cleanNames(strings.Split(v, ",")), nil
	case []string:
		return cleanNames(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: name must be a string, got %T", shared.ErrInvalidArgument, item)
			}
			out = append(out, s)
		}
		return cleanNames(out), nil
	}
	return nil, fmt.Errorf("%w: names must be a string or list, got %T", shared.ErrInvalidArgument, names)
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = norm.NFC.String(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
