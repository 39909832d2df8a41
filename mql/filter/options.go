package filter

import "github.com/krew-solutions/mql-go/mql/schema"

// WhitelistFunc decides whether a dotted field path may be filtered on.
// It always receives the internal (translated), index-stripped path.
type WhitelistFunc func(path string) bool

// WhitelistOf builds a WhitelistFunc from a fixed list of allowed paths.
func WhitelistOf(paths ...string) WhitelistFunc {
	allowed := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		allowed[schema.StripIndexes(p)] = struct{}{}
	}
	return func(path string) bool {
		_, ok := allowed[path]
		return ok
	}
}

// NestedConditionsFunc supplies mandatory predicates that are ANDed into
// every existential scope opened for the given relation path, regardless of
// user input. The path is internal and index-stripped.
type NestedConditionsFunc func(path string) []Node

// NestedConditionsMap builds a NestedConditionsFunc from a fixed mapping.
func NestedConditionsMap(conditions map[string][]Node) NestedConditionsFunc {
	return func(path string) []Node {
		return conditions[path]
	}
}

// KeyTranslatorFunc converts a user supplied dotted attribute name into the
// model's internal dotted field name, e.g. "tracks.unitPrice" into
// "tracks.unit_price". Returning an empty string marks the path invalid.
type KeyTranslatorFunc func(path string) string

// Options tunes a single Compile call.
type Options struct {
	// Whitelist decides which paths may be filtered on. Nil allows every
	// resolvable path.
	Whitelist WhitelistFunc
	// NestedConditions injects row level conditions into existential
	// scopes. Nil injects nothing.
	NestedConditions NestedConditionsFunc
	// KeyTranslator maps external to internal key names. Nil is identity.
	KeyTranslator KeyTranslatorFunc
	// ComplexityLimit caps the pending work stack size. Zero disables the
	// check.
	ComplexityLimit int
}
