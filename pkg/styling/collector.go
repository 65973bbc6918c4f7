package styling

import (
	"strings"
	"sync"
)

// Collector gathers the scoped styles used while rendering a page so they
// can be injected into its head once
type Collector struct {
	mu     sync.RWMutex
	order  []string
	styles map[string]string
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{styles: make(map[string]string)}
}

// Add registers the stylesheet of one scope. Adding a scope again
// replaces its stylesheet and keeps its position.
func (c *Collector) Add(id, css string) {
	if css == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.styles[id]; !ok {
		c.order = append(c.order, id)
	}
	c.styles[id] = css
}

// CSS returns all registered CSS in registration order
func (c *Collector) CSS() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var cssBuilder strings.Builder
	for _, id := range c.order {
		cssBuilder.WriteString(c.styles[id])
		cssBuilder.WriteString("\n")
	}
	return cssBuilder.String()
}

// Render returns the style element for the collected CSS, or "" when
// nothing was registered
func (c *Collector) Render() string {
	css := c.CSS()
	if css == "" {
		return ""
	}
	return "<style data-wire-styles>\n" + css + "</style>"
}

// Len returns the number of registered scopes
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Reset clears all registered styles
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.styles = make(map[string]string)
}
