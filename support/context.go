package support

import vs "github.com/gofhir/validationsupport"

// Context is handed to every module call so that a module can reach the whole
// chain, e.g. an expander fetching a CodeSystem held by a sibling module. It
// holds nothing but the root reference and lives for one logical operation.
type Context struct {
	root *Chain
}

// NewContext returns a context rooted at chain.
func NewContext(root *Chain) *Context {
	return &Context{root: root}
}

// Root returns the chain that cross-module calls must go through.
func (c *Context) Root() *Chain {
	return c.root
}

// FhirContext returns the FHIR context of the root chain.
func (c *Context) FhirContext() *vs.FhirContext {
	return c.root.FhirContext()
}
