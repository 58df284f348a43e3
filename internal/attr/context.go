package attr

// Context is the flattened set of subject attributes an evaluation runs
// against. Keys are taken verbatim from the request; lookups are
// case-sensitive, matching the wire contract.
type Context map[string]Value

// Get returns the named attribute and whether it was present at all.
// Segment and rule matching treats absence and null the same way: the
// condition folds to false rather than erroring.
func (c Context) Get(name string) (Value, bool) {
	v, ok := c[name]
	if !ok || v.IsNull() {
		return Value{}, false
	}
	return v, true
}

// FromRaw builds a Context from a decoded JSON object. If "user" is an
// object, its fields are flattened into the top level and the "user" key
// itself is removed, so SDKs that nest subject fields under "user" still
// resolve by bare name and ctx.Get("user") reports absent. A non-object
// "user" value is kept as an ordinary top-level attribute.
func FromRaw(raw map[string]any) Context {
	nested, userIsObject := raw["user"].(map[string]any)

	ctx := make(Context, len(raw))
	for k, v := range raw {
		if k == "user" && userIsObject {
			continue
		}
		ctx[k] = FromAny(v)
	}
	if userIsObject {
		for nk, nv := range nested {
			if _, exists := ctx[nk]; !exists {
				ctx[nk] = FromAny(nv)
			}
		}
	}
	return ctx
}
