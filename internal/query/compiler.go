package query

// Compiler keeps the last partial of every panel and rebuilds the canonical
// query on each merge. It is not safe for concurrent use; the preview
// controller owns one per session.
type Compiler struct {
	order    []PanelName
	partials map[PanelName]Partial
	last     string
}

func NewCompiler() *Compiler {
	order := make([]PanelName, 0, len(Panels))
	for _, p := range Panels {
		order = append(order, p.Name)
	}
	return &Compiler{
		order:    order,
		partials: make(map[PanelName]Partial, len(order)),
	}
}

// Merge replaces the stored partial for panel and returns the rebuilt query.
// changed is false when the serialized query equals the previous one.
func (c *Compiler) Merge(panel PanelName, partial Partial) (Canonical, bool) {
	c.partials[panel] = append(Partial(nil), partial...)
	q := c.Compile()
	enc := q.Encode()
	changed := enc != c.last
	c.last = enc
	return q, changed
}

// Compile concatenates the stored partials in panel order. A key already
// written by an earlier panel is never overwritten.
func (c *Compiler) Compile() Canonical {
	seen := make(map[string]struct{})
	var out Canonical
	for _, name := range c.order {
		for _, p := range c.partials[name] {
			if _, dup := seen[p.Key]; dup {
				continue
			}
			seen[p.Key] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Last is the most recently emitted serialized query.
func (c *Compiler) Last() string { return c.last }
