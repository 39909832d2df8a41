package filter

import (
	"sort"
	"strings"

	"github.com/krew-solutions/mql-go/mql/schema"
)

// popMarker is a sentinel pushed onto the work stack to close the matching
// open stack entry once everything above it has been processed.
type popMarker string

const (
	popAttrNames  popMarker = "POP_attr_names"
	popScopeNames popMarker = "POP_scope_names"
	popFrame      popMarker = "POP_frame"
)

type frameKind int

const (
	frameAnd frameKind = iota
	frameOr
	frameNot
	frameExists
)

// scopeFrame accumulates the predicates of one compound node while it is
// being built.
type scopeFrame struct {
	kind        frameKind
	relPath     string
	relModel    string
	cardinality schema.Cardinality
	expressions []Node
}

type compiler struct {
	registry  *schema.Registry
	root      string
	whitelist WhitelistFunc
	nested    NestedConditionsFunc
	translate KeyTranslatorFunc
	limit     int

	// work holds pending filter fragments and pop sentinels.
	work []any
	// attrNames / cAttrNames are the open external and internal
	// (translated) path stacks, seeded with the root model's name.
	attrNames  []string
	cAttrNames []string
	// scopeNames / cScopeNames track the paths at which an existential
	// scope is currently open.
	scopeNames  []string
	cScopeNames []string
	frames      []*scopeFrame
}

// Compile walks a MongoDB-style filter document and builds a predicate tree
// over the root model's schema. A nil document compiles to a nil predicate.
//
// The returned predicate is meant to be AND-combined onto whatever query
// scope the caller already has. Any invalid fragment anywhere in the
// document aborts the whole compile; there is no partial result.
func Compile(registry *schema.Registry, rootModel string, filters map[string]any, opts Options) (Node, error) {
	if filters == nil {
		return nil, nil
	}
	if _, ok := registry.Model(rootModel); !ok {
		return nil, &schema.UnknownFieldError{Model: rootModel}
	}

	c := &compiler{
		registry:  registry,
		root:      rootModel,
		whitelist: opts.Whitelist,
		nested:    opts.NestedConditions,
		translate: opts.KeyTranslator,
		limit:     opts.ComplexityLimit,
	}
	if c.whitelist == nil {
		c.whitelist = func(path string) bool { return path != "" }
	}
	if c.nested == nil {
		c.nested = func(string) []Node { return nil }
	}
	if c.translate == nil {
		c.translate = func(path string) string { return path }
	}

	c.attrNames = []string{rootModel}
	c.cAttrNames = []string{rootModel}
	c.scopeNames = []string{rootModel}
	c.cScopeNames = []string{rootModel}
	c.frames = []*scopeFrame{{kind: frameAnd}}
	c.work = []any{filters}

	for len(c.work) > 0 {
		if c.limit > 0 && len(c.work) > c.limit {
			return nil, &TooComplexError{Limit: c.limit}
		}
		item := c.work[len(c.work)-1]
		c.work = c.work[:len(c.work)-1]

		switch it := item.(type) {
		case popMarker:
			c.handlePop(it)
		case map[string]any:
			if err := c.processDocument(it); err != nil {
				return nil, err
			}
		}
	}

	if len(c.frames[0].expressions) == 0 {
		return nil, nil
	}
	return conjoin(c.frames[0].expressions), nil
}

func (c *compiler) handlePop(marker popMarker) {
	switch marker {
	case popAttrNames:
		c.attrNames = c.attrNames[:len(c.attrNames)-1]
		c.cAttrNames = c.cAttrNames[:len(c.cAttrNames)-1]
	case popScopeNames:
		c.scopeNames = c.scopeNames[:len(c.scopeNames)-1]
		c.cScopeNames = c.cScopeNames[:len(c.cScopeNames)-1]
	case popFrame:
		frame := c.frames[len(c.frames)-1]
		c.frames = c.frames[:len(c.frames)-1]
		exprs := frame.expressions
		if len(exprs) == 0 {
			exprs = []Node{True()}
		}
		var result Node
		switch frame.kind {
		case frameAnd:
			result = conjoin(exprs)
		case frameOr:
			result = disjoin(exprs)
		case frameNot:
			result = Not(exprs[0])
		case frameExists:
			result = Exists(frame.relPath, frame.relModel, frame.cardinality, conjoin(exprs))
		}
		parent := c.frames[len(c.frames)-1]
		parent.expressions = append(parent.expressions, result)
	}
}

func (c *compiler) processDocument(doc map[string]any) error {
	if len(doc) > 1 {
		// Siblings are split into singletons under a fresh And frame.
		// They deliberately do not share an existential scope: each
		// sibling may be satisfied by a different related row.
		c.frames = append(c.frames, &scopeFrame{kind: frameAnd})
		c.work = append(c.work, popFrame)
		keys := sortedKeys(doc)
		for i := len(keys) - 1; i >= 0; i-- {
			c.work = append(c.work, map[string]any{keys[i]: doc[keys[i]]})
		}
		return nil
	}
	for key, value := range doc {
		return c.processKey(key, value)
	}
	return nil
}

func (c *compiler) processKey(key string, value any) error {
	if !strings.HasPrefix(key, "$") {
		return c.processField(key, value)
	}

	switch token(key) {
	case tokenAnd, tokenOr:
		list, ok := value.([]any)
		if !ok {
			return &FieldError{
				DataKey: c.dataKey(),
				Filter:  value,
				Op:      key,
				Code:    CodeInvalidOp,
				Message: "$and and $or values must be a list.",
			}
		}
		kind := frameAnd
		if token(key) == tokenOr {
			kind = frameOr
		}
		c.frames = append(c.frames, &scopeFrame{kind: kind})
		c.work = append(c.work, popFrame)
		for i := len(list) - 1; i >= 0; i-- {
			c.work = append(c.work, list[i])
		}
		return nil

	case tokenNot:
		c.frames = append(c.frames, &scopeFrame{kind: frameNot})
		c.work = append(c.work, popFrame, value)
		return nil

	case tokenNor:
		c.frames = append(c.frames, &scopeFrame{kind: frameNot})
		c.work = append(c.work, popFrame, map[string]any{"$or": value})
		return nil

	case tokenElemMatch:
		return c.processElemMatch(value)
	}

	return c.processOperator(token(key), value)
}

// processElemMatch opens a new existential scope on the relation denoted by
// the currently open path.
func (c *compiler) processElemMatch(value any) error {
	attrName := strings.Join(c.attrNames, ".")
	cAttrName := strings.Join(c.cAttrNames, ".")
	parentScope := strings.Join(c.scopeNames, ".")
	cParentScope := strings.Join(c.cScopeNames, ".")

	c.scopeNames = append(c.scopeNames, trimScope(attrName, parentScope))
	c.cScopeNames = append(c.cScopeNames, trimScope(cAttrName, cParentScope))
	c.work = append(c.work, popScopeNames, popFrame, value)

	relPath := strings.Join(c.cAttrNames[1:], ".")
	steps, err := c.registry.Resolve(c.root, relPath)
	if err != nil {
		return err
	}
	var rel *schema.RelationField
	if len(steps) > 0 {
		if rf, ok := steps[len(steps)-1].Field.(schema.RelationField); ok {
			rel = &rf
		}
	}
	if rel == nil {
		return &FieldError{
			DataKey: c.dataKey(),
			Filter:  value,
			Op:      string(tokenElemMatch),
			Code:    CodeInvalidElemMatch,
			Message: "$elemMatch not applied to subobject.",
		}
	}

	// Mandatory per-relation conditions are seeded into the scope before
	// any user supplied expression, regardless of what the filter asks.
	seed := c.nested(schema.StripIndexes(relPath))
	c.frames = append(c.frames, &scopeFrame{
		kind:        frameExists,
		relPath:     relPath,
		relModel:    rel.Target,
		cardinality: rel.Cardinality,
		expressions: append([]Node(nil), seed...),
	})
	return nil
}

// processOperator handles an operator-prefixed key against the field at the
// currently open path.
func (c *compiler) processOperator(op token, value any) error {
	path := strings.Join(c.cAttrNames[1:], ".")
	steps, err := c.registry.Resolve(c.root, path)
	if err != nil {
		return err
	}

	target := leafTarget{
		dataKey: c.dataKey(),
		field:   trimScope(strings.Join(c.cAttrNames, "."), strings.Join(c.cScopeNames, ".")),
	}
	var last schema.Field
	if len(steps) > 0 {
		last = steps[len(steps)-1].Field
	}
	switch f := last.(type) {
	case schema.ScalarField:
		target.scalar = &f
	case schema.RelationField:
		if op != tokenExists {
			return &FieldError{
				DataKey: c.dataKey(),
				Filter:  value,
				Op:      string(op),
				Code:    CodeInvalidRelationComp,
				Message: "Relationships can't be checked for equality.",
			}
		}
		target.rel = &f
		target.relPath = path
	default:
		return &FieldError{
			DataKey: c.dataKey(),
			Filter:  value,
			Op:      string(op),
			Code:    CodeInvalidRelationComp,
			Message: "Relationships can't be checked for equality.",
		}
	}

	node, err := buildLeaf(op, target, value)
	if err != nil {
		return err
	}
	top := c.frames[len(c.frames)-1]
	top.expressions = append(top.expressions, node)
	return nil
}

// processField handles a plain field name or dotted sub-path key.
func (c *compiler) processField(key string, value any) error {
	fullAttr := joinPath(c.attrNames[1:], key)
	cFull := c.translate(fullAttr)
	keySegs := strings.Split(key, ".")
	cFullSegs := strings.Split(cFull, ".")
	if cFull == "" || len(cFullSegs) < len(keySegs) {
		return &schema.UnknownFieldError{Model: c.root, Field: key, Path: fullAttr}
	}
	cKey := strings.Join(cFullSegs[len(cFullSegs)-len(keySegs):], ".")

	if !c.whitelist(schema.StripIndexes(joinPath(c.cAttrNames[1:], cKey))) {
		return &PermissionError{FieldError{
			DataKey: joinPath(c.attrNames[1:], key),
			Filter:  value,
			Code:    CodePermission,
			Message: "Attempt made to query a field without proper permission.",
		}}
	}

	if len(c.attrNames) > len(c.scopeNames) {
		// A sibling already ended in a bare scalar comparison at this
		// level; comparing an attribute to an object is never valid.
		return &FieldError{
			DataKey: c.dataKey(),
			Filter:  map[string]any{key: value},
			Op:      string(tokenEq),
			Code:    CodeInvalidAttrComp,
			Message: "Attempts at comparing an attribute to an object aren't valid.",
		}
	}

	fullChain, err := c.chain(joinPath(c.cAttrNames[1:], cKey))
	if err != nil {
		return err
	}
	scopeChain, err := c.chain(strings.Join(c.cScopeNames[1:], "."))
	if err != nil {
		return err
	}
	extSegs := strings.Split(joinPath(c.attrNames, key), ".")
	cExtSegs := strings.Split(joinPath(c.cAttrNames, cKey), ".")
	relIdx := fullChain.relationIndexes()
	scopeIdx := scopeChain.relationIndexes()

	if len(relIdx) == len(scopeIdx) {
		// No new relation boundary: descend into the key and re-push
		// the value, wrapping primitives as explicit equality.
		c.attrNames = append(c.attrNames, key)
		c.cAttrNames = append(c.cAttrNames, cKey)
		c.work = append(c.work, popAttrNames)
		if m, ok := value.(map[string]any); ok {
			c.work = append(c.work, m)
		} else {
			c.work = append(c.work, map[string]any{"$eq": value})
		}
		return nil
	}

	// The path crosses at least one relation that has no open scope yet.
	// Open the next not-yet-open crossing and rewrite the remainder.
	newIdx := relIdx[len(scopeIdx)]
	prior := 0
	if len(scopeIdx) > 0 {
		prior = scopeIdx[len(scopeIdx)-1]
	}
	var attrName, cAttrName strings.Builder
	for i := prior + 1; i <= newIdx; i++ {
		attrName.WriteString(extSegs[i])
		cAttrName.WriteString(cExtSegs[i])
		if i != newIdx {
			attrName.WriteString(".")
			cAttrName.WriteString(".")
		}
	}
	c.attrNames = append(c.attrNames, attrName.String())
	c.cAttrNames = append(c.cAttrNames, cAttrName.String())
	c.work = append(c.work, popAttrNames)

	subAttr := strings.Join(extSegs[newIdx+1:], ".")
	lastIdx := relIdx[len(relIdx)-1]

	if m, isMap := value.(map[string]any); isMap && newIdx == lastIdx {
		if subAttr != "" {
			c.work = append(c.work, map[string]any{"$elemMatch": map[string]any{subAttr: value}})
			return nil
		}
		if len(m) == 0 {
			return &FieldError{
				DataKey: c.dataKey(),
				Filter:  value,
				Code:    CodeInvalidEmptyComp,
				Message: "Fields can't be compared to empty objects.",
			}
		}
		// The mapping addresses the relation itself: treat each sub-key
		// as an explicit or implicit $elemMatch against it.
		c.frames = append(c.frames, &scopeFrame{kind: frameAnd})
		c.work = append(c.work, popFrame)
		subKeys := sortedKeys(m)
		for i := len(subKeys) - 1; i >= 0; i-- {
			subKey := subKeys[i]
			switch token(subKey) {
			case tokenElemMatch:
				c.work = append(c.work, map[string]any{"$elemMatch": m[subKey]})
			case tokenExists:
				c.work = append(c.work, m)
			default:
				c.work = append(c.work, map[string]any{"$elemMatch": map[string]any{subKey: m[subKey]}})
			}
		}
		return nil
	}

	if newIdx == lastIdx && subAttr == "" {
		return &FieldError{
			DataKey: c.dataKey(),
			Filter:  value,
			Code:    CodeInvalidRelationComp,
			Message: "Relationships can't be compared to primitive values.",
		}
	}
	c.work = append(c.work, map[string]any{"$elemMatch": map[string]any{subAttr: value}})
	return nil
}

// dataKey is the user facing dotted path of the currently open attribute,
// without the root model's name.
func (c *compiler) dataKey() string {
	return strings.Join(c.attrNames[1:], ".")
}

// attrChain is an ordered field-descriptor chain aligned with its path
// segments; index 0 is the root model itself.
type attrChain struct {
	segs   []string
	fields []schema.Field
}

func (c *compiler) chain(path string) (attrChain, error) {
	ch := attrChain{segs: []string{c.root}, fields: []schema.Field{nil}}
	if path == "" {
		return ch, nil
	}
	steps, err := c.registry.Resolve(c.root, path)
	if err != nil {
		return attrChain{}, err
	}
	for _, st := range steps {
		ch.segs = append(ch.segs, st.Name)
		ch.fields = append(ch.fields, st.Field)
	}
	return ch, nil
}

// relationIndexes returns the ordered positions of relation crossings in
// the chain. A relation immediately followed by a numeric index segment is
// not a crossing on its own; the index placeholder extends it.
func (ch attrChain) relationIndexes() []int {
	var idx []int
	for i, f := range ch.fields {
		if _, ok := f.(schema.RelationField); !ok {
			continue
		}
		if i == len(ch.fields)-1 || !schema.IsIndexSegment(ch.segs[i+1]) {
			idx = append(idx, i)
		}
	}
	return idx
}

// trimScope removes the scope prefix (and its trailing dot) from a full
// dotted path.
func trimScope(full, scope string) string {
	if scope == "" {
		return full
	}
	if len(full) <= len(scope)+1 {
		return ""
	}
	return full[len(scope)+1:]
}

func joinPath(parts []string, leaf string) string {
	if leaf == "" {
		return strings.Join(parts, ".")
	}
	if len(parts) == 0 {
		return leaf
	}
	return strings.Join(parts, ".") + "." + leaf
}

// sortedKeys gives map iteration a stable order so compiled trees are
// deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
