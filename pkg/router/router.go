// Package router matches request paths against the route patterns
// declared by pages. Patterns are slash separated; a segment of the form
// {name} or {name:type} captures a parameter. Types are str (the
// default), int, uuid and path, which captures the rest of the path.
package router

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Route binds a pattern to the page file serving it. Name is the named
// route of the page the pattern came from.
type Route struct {
	Pattern string
	File    string
	Name    string
}

// Param is one captured path parameter
type Param struct {
	Name string
	Type string
	Raw  string
}

// Int returns the parameter as an integer; ok is false for non-int
// parameters
func (p Param) Int() (int64, bool) {
	if p.Type != "int" {
		return 0, false
	}
	n, err := strconv.ParseInt(p.Raw, 10, 64)
	return n, err == nil
}

// Match is the result of a successful lookup
type Match struct {
	Route  Route
	Params []Param
}

// Values returns the raw parameter values by name
func (m *Match) Values() map[string]string {
	values := make(map[string]string, len(m.Params))
	for _, p := range m.Params {
		values[p.Name] = p.Raw
	}
	return values
}

// node is a node of the segment tree
type node struct {
	segment   string
	param     bool
	catchAll  bool
	paramName string
	paramType string
	route     *Route
	children  []*node
}

// Router is a segment tree of routes. It is safe for concurrent use.
type Router struct {
	mu   sync.RWMutex
	root *node
}

// New creates an empty router
func New() *Router {
	return &Router{root: &node{}}
}

// Add registers a route. Registering a pattern twice is an error, as is a
// segment with an unknown type or a path capture that is not last.
func (r *Router) Add(route Route) error {
	segments := splitPath(route.Pattern)
	parsed := make([]*node, len(segments))
	for i, seg := range segments {
		n, err := parseSegment(seg)
		if err != nil {
			return fmt.Errorf("route %s: %w", route.Pattern, err)
		}
		if n.catchAll && i != len(segments)-1 {
			return fmt.Errorf("route %s: path parameter %s must be the last segment", route.Pattern, n.paramName)
		}
		parsed[i] = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.root
	for _, n := range parsed {
		cur = cur.child(n)
	}
	if cur.route != nil {
		return fmt.Errorf("route %s is already served by %s", route.Pattern, cur.route.File)
	}
	cur.route = &route
	return nil
}

// Match finds the route for path. Static segments win over parameters,
// and parameters over path captures.
func (r *Router) Match(path string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var params []Param
	n, ok := r.root.match(splitPath(path), &params)
	if !ok || n.route == nil {
		return nil, false
	}
	return &Match{Route: *n.route, Params: params}, true
}

// Remove drops every route served by file
func (r *Router) Remove(file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root.walk(func(n *node) {
		if n.route != nil && n.route.File == file {
			n.route = nil
		}
	})
}

// Routes returns every registered route ordered by pattern
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var routes []Route
	r.root.walk(func(n *node) {
		if n.route != nil {
			routes = append(routes, *n.route)
		}
	})
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Pattern < routes[j].Pattern
	})
	return routes
}

// child finds or creates the child equal to n
func (n *node) child(want *node) *node {
	for _, c := range n.children {
		if c.param == want.param && c.catchAll == want.catchAll &&
			c.segment == want.segment && c.paramType == want.paramType {
			if c.param || c.catchAll {
				if c.paramName == want.paramName {
					return c
				}
				continue
			}
			return c
		}
	}
	n.children = append(n.children, want)
	return want
}

// match attempts to match segments below n
func (n *node) match(segments []string, params *[]Param) (*node, bool) {
	if len(segments) == 0 {
		if n.route != nil {
			return n, true
		}
		// an empty path capture still matches
		for _, c := range n.children {
			if c.catchAll && c.route != nil {
				*params = append(*params, Param{Name: c.paramName, Type: c.paramType})
				return c, true
			}
		}
		return nil, false
	}

	segment := segments[0]
	remaining := segments[1:]

	// Try static match first (highest priority)
	for _, c := range n.children {
		if !c.param && !c.catchAll && c.segment == segment {
			if result, ok := c.match(remaining, params); ok {
				return result, true
			}
		}
	}

	// Try parameter match
	for _, c := range n.children {
		if c.param && validateParam(segment, c.paramType) {
			mark := len(*params)
			*params = append(*params, Param{Name: c.paramName, Type: c.paramType, Raw: segment})
			if result, ok := c.match(remaining, params); ok {
				return result, true
			}
			*params = (*params)[:mark]
		}
	}

	// Try catch-all match (lowest priority)
	for _, c := range n.children {
		if c.catchAll && c.route != nil {
			*params = append(*params, Param{Name: c.paramName, Type: c.paramType, Raw: strings.Join(segments, "/")})
			return c, true
		}
	}

	return nil, false
}

func (n *node) walk(fn func(n *node)) {
	fn(n)
	for _, c := range n.children {
		c.walk(fn)
	}
}

// Helper functions

func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{}
	}
	return strings.Split(path, "/")
}

// parseSegment parses {name}, {name:type}, :name and :name:type captures;
// anything else is a static segment
func parseSegment(segment string) (*node, error) {
	var def string
	switch {
	case strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}"):
		def = segment[1 : len(segment)-1]
	case strings.HasPrefix(segment, ":") && len(segment) > 1:
		def = segment[1:]
	default:
		return &node{segment: segment}, nil
	}

	name, paramType := parseParamDef(def)
	if name == "" {
		return nil, fmt.Errorf("empty parameter name in %q", segment)
	}
	switch paramType {
	case "path":
		return &node{segment: segment, catchAll: true, paramName: name, paramType: paramType}, nil
	case "str", "int", "uuid":
		return &node{segment: segment, param: true, paramName: name, paramType: paramType}, nil
	}
	return nil, fmt.Errorf("unknown parameter type %q in %q", paramType, segment)
}

func parseParamDef(def string) (name, paramType string) {
	name, paramType, found := strings.Cut(def, ":")
	if !found || paramType == "" {
		paramType = "str"
	}
	return strings.TrimSpace(name), strings.TrimSpace(paramType)
}

func validateParam(value, paramType string) bool {
	switch paramType {
	case "int":
		if value == "" {
			return false
		}
		for _, r := range value {
			if r < '0' || r > '9' {
				return false
			}
		}
		_, err := strconv.ParseInt(value, 10, 64)
		return err == nil
	case "uuid":
		// Check format: 8-4-4-4-12
		if len(value) != 36 {
			return false
		}
		for i, r := range value {
			switch i {
			case 8, 13, 18, 23:
				if r != '-' {
					return false
				}
			default:
				if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
					return false
				}
			}
		}
		return true
	default:
		// String accepts anything except empty
		return len(value) > 0
	}
}

// Table is the serialized routing table
type Table struct {
	Routes []TableEntry `json:"routes"`
}

// TableEntry is a single route in the table
type TableEntry struct {
	Path   string     `json:"path"`
	File   string     `json:"file"`
	Name   string     `json:"name,omitempty"`
	Params []ParamDef `json:"params,omitempty"`
}

// ParamDef is a route parameter definition
type ParamDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExportTable exports the routing table, ordered by pattern
func (r *Router) ExportTable() *Table {
	table := &Table{Routes: make([]TableEntry, 0)}
	for _, route := range r.Routes() {
		entry := TableEntry{Path: route.Pattern, File: route.File, Name: route.Name}
		for _, seg := range splitPath(route.Pattern) {
			n, err := parseSegment(seg)
			if err != nil || (!n.param && !n.catchAll) {
				continue
			}
			entry.Params = append(entry.Params, ParamDef{Name: n.paramName, Type: n.paramType})
		}
		table.Routes = append(table.Routes, entry)
	}
	return table
}
