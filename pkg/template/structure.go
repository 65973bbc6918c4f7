package template

// blockKind returns the keyword of a brace block opener, or ""
func blockKind(n *Node) string {
	if !n.IsControl() {
		return ""
	}
	for _, s := range n.Special {
		switch s.(type) {
		case *If:
			return "if"
		case *For:
			return "for"
		case *Try:
			return "try"
		case *Await:
			return "await"
		}
	}
	return ""
}

// branchOf returns the keyword of a standalone branch marker ({$else},
// {$except}, ...) and the openers it may appear in
func branchOf(n *Node) (string, []string) {
	if n.Tag != "" || n.HasText || len(n.Special) != 1 {
		return "", nil
	}
	switch n.Special[0].(type) {
	case *Elif:
		return "elif", []string{"if"}
	case *Else:
		return "else", []string{"if", "for", "try"}
	case *Except:
		return "except", []string{"try"}
	case *Finally:
		return "finally", []string{"try"}
	case *Then:
		return "then", []string{"await"}
	case *Catch:
		return "catch", []string{"await"}
	}
	return "", nil
}

// structure nests a flat sibling list: openers push, {/kw} closers pop,
// everything else goes to the innermost open block
func structure(file string, nodes []*Node) ([]*Node, error) {
	var roots []*Node
	var stack []*Node

	for _, n := range nodes {
		if len(n.Special) == 1 {
			if m, ok := n.Special[0].(*blockMarker); ok {
				if len(stack) == 0 {
					return nil, newError(ErrStructure, file, m.Line, m.Col, "{/%s} without an open block", m.Keyword)
				}
				open := stack[len(stack)-1]
				if kind := blockKind(open); kind != m.Keyword {
					return nil, newError(ErrStructure, file, m.Line, m.Col, "{/%s} closes {$%s} opened on line %d", m.Keyword, kind, open.Line)
				}
				stack = stack[:len(stack)-1]
				if err := validateBlockRoot(file, open); err != nil {
					return nil, err
				}
				continue
			}
		}

		if kw, allowed := branchOf(n); kw != "" {
			if len(stack) == 0 || !contains(allowed, blockKind(stack[len(stack)-1])) {
				return nil, newError(ErrStructure, file, n.Line, n.Col, "{$%s} outside a matching block", kw)
			}
		}

		if len(stack) > 0 {
			top := stack[len(stack)-1]
			top.Children = append(top.Children, n)
		} else {
			roots = append(roots, n)
		}

		if blockKind(n) != "" {
			stack = append(stack, n)
		}
	}

	if len(stack) > 0 {
		open := stack[len(stack)-1]
		return nil, newError(ErrStructure, file, open.Line, open.Col, "unclosed {$%s} block", blockKind(open))
	}
	return roots, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// validateBlockRoot requires a keyless loop to render exactly one root
// element per iteration. Children from the first {$else} on do not count.
func validateBlockRoot(file string, n *Node) error {
	f, ok := SpecialOf[*For](n.Special)
	if !ok || f.Key != "" {
		return nil
	}
	roots := 0
	for _, c := range n.Children {
		if kw, _ := branchOf(c); kw == "else" || kw == "elif" {
			break
		}
		if isRealChild(c) {
			roots++
		}
	}
	if roots != 1 {
		return newError(ErrStructure, file, n.Line, n.Col,
			"A $for loop without a 'key' must have exactly one root element")
	}
	return nil
}

func isRealChild(c *Node) bool {
	if c.Tag != "" {
		return true
	}
	if c.HasText {
		for _, r := range c.Text {
			if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
				return true
			}
		}
		return false
	}
	for _, s := range c.Special {
		if _, ok := s.(*blockMarker); !ok {
			return true
		}
	}
	return false
}

// SpecialOf returns the first special of type T
func SpecialOf[T Special](specials []Special) (T, bool) {
	for _, s := range specials {
		if t, ok := s.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}
