package schema

import (
	"fmt"
	"strings"
)

// UnknownFieldError is returned when a dotted path references a field the
// schema does not know about.
type UnknownFieldError struct {
	Model string
	Field string
	Path  string
}

func (e *UnknownFieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("unknown model %q", e.Model)
	}
	return fmt.Sprintf("model %q has no field %q (resolving %q)", e.Model, e.Field, e.Path)
}

// Step is one resolved segment of a dotted path. Field is nil for purely
// numeric placeholder segments, which are accepted after a relation for
// whitelist-path normalization but never resolve to a field themselves.
type Step struct {
	Name  string
	Field Field
}

// Resolve walks a dotted path left to right starting at the root model.
// Crossing a relation advances the current model to the relation's target.
func (r *Registry) Resolve(root, path string) ([]Step, error) {
	model, ok := r.models[root]
	if !ok {
		return nil, &UnknownFieldError{Model: root, Path: path}
	}
	if path == "" {
		return nil, nil
	}

	var steps []Step
	var pending *RelationField
	for _, seg := range strings.Split(path, ".") {
		if pending != nil {
			target, ok := r.models[pending.Target]
			if !ok {
				return nil, &UnknownFieldError{Model: pending.Target, Field: seg, Path: path}
			}
			model = target
			if IsIndexSegment(seg) {
				steps = append(steps, Step{Name: seg})
				continue
			}
			pending = nil
		}
		f, ok := model.Field(seg)
		if !ok {
			return nil, &UnknownFieldError{Model: model.Name(), Field: seg, Path: path}
		}
		steps = append(steps, Step{Name: seg, Field: f})
		if rel, isRel := f.(RelationField); isRel {
			pending = &rel
		} else {
			pending = nil
		}
	}
	return steps, nil
}

// IsIndexSegment reports whether a path segment is a legacy numeric index
// placeholder.
func IsIndexSegment(seg string) bool {
	return seg != "" && seg[0] >= '0' && seg[0] <= '9'
}

// StripIndexes removes numeric placeholder segments from a dotted path, so
// "tracks.0.name" becomes "tracks.name".
func StripIndexes(path string) string {
	if path == "" {
		return path
	}
	segs := strings.Split(path, ".")
	kept := segs[:0]
	for _, seg := range segs {
		if !IsIndexSegment(seg) {
			kept = append(kept, seg)
		}
	}
	return strings.Join(kept, ".")
}
