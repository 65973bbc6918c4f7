package codegen

import (
	"go.starlark.net/syntax"
)

// mode selects how page members are rewritten
type mode int

const (
	// modeTemplate reads members as plain values
	modeTemplate mode = iota
	// modeRef keeps members as they are stored, reactive or not
	modeRef
	// modeCode is user code: members stay reactive so writes go through
	modeCode
)

// rewriter turns free names into page member accesses. It works in place
// on freshly parsed syntax trees.
type rewriter struct {
	syms   *symbols
	mode   mode
	scopes []map[string]bool

	// locals are the template bindings in scope, mapped to the parameter
	// they are passed as
	locals  map[string]string
	rename  func(name string) string
	used    []string
	usedSet map[string]bool

	// event is an implicit parameter of inline handlers
	allowEvent bool
	usesEvent  bool

	async bool
}

func newRewriter(syms *symbols, m mode, locals map[string]string) *rewriter {
	return &rewriter{syms: syms, mode: m, locals: locals, usedSet: make(map[string]bool)}
}

func (r *rewriter) push(names map[string]bool) {
	r.scopes = append(r.scopes, names)
}

func (r *rewriter) pop() {
	r.scopes = r.scopes[:len(r.scopes)-1]
}

func (r *rewriter) isLocal(name string) bool {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if r.scopes[i][name] {
			return true
		}
	}
	return false
}

// use records a template local and returns its parameter name
func (r *rewriter) use(name string) string {
	if !r.usedSet[name] {
		r.usedSet[name] = true
		r.used = append(r.used, name)
	}
	if r.rename != nil {
		return r.rename(name)
	}
	return r.locals[name]
}

// member builds self.name
func member(pos syntax.Position, name string) *syntax.DotExpr {
	return &syntax.DotExpr{
		X:       &syntax.Ident{NamePos: pos, Name: "self"},
		Dot:     pos,
		NamePos: pos,
		Name:    &syntax.Ident{NamePos: pos, Name: name},
	}
}

// call builds fn(args...)
func call(pos syntax.Position, fn syntax.Expr, args ...syntax.Expr) *syntax.CallExpr {
	return &syntax.CallExpr{Fn: fn, Lparen: pos, Args: args, Rparen: pos}
}

func builtin(pos syntax.Position, name string, args ...syntax.Expr) *syntax.CallExpr {
	return call(pos, &syntax.Ident{NamePos: pos, Name: name}, args...)
}

// ident resolves a name read. value is false where the result is only
// used for attribute access or as a callee.
func (r *rewriter) ident(id *syntax.Ident, value bool) syntax.Expr {
	name := id.Name
	if r.isLocal(name) {
		return id
	}
	if _, ok := r.locals[name]; ok {
		if param := r.use(name); param != name {
			return &syntax.Ident{NamePos: id.NamePos, Name: param}
		}
		return id
	}
	if name == "self" {
		return id
	}
	if r.allowEvent && name == "event" && !r.syms.members[name] {
		r.usesEvent = true
		return id
	}
	if r.syms.global(name) {
		return id
	}
	m := member(id.NamePos, name)
	if value && r.mode == modeTemplate && !r.syms.methods[name] {
		return builtin(id.NamePos, "unwrap", m)
	}
	return m
}

func isComparison(op syntax.Token) bool {
	switch op {
	case syntax.EQL, syntax.NEQ, syntax.LT, syntax.GT, syntax.LE, syntax.GE, syntax.IN, syntax.NOT_IN:
		return true
	}
	return false
}

// unwrapOperand wraps a comparison operand so reactive values compare by
// their plain value
func unwrapOperand(e syntax.Expr) syntax.Expr {
	switch x := e.(type) {
	case *syntax.Literal:
		return e
	case *syntax.CallExpr:
		if id, ok := x.Fn.(*syntax.Ident); ok && id.Name == "unwrap" {
			return e
		}
	}
	start, _ := e.Span()
	return builtin(start, "unwrap", e)
}

// cond rewrites a truth test. Reactive values are unwrapped first so a
// failing derived raises instead of testing false.
func (r *rewriter) cond(e syntax.Expr) syntax.Expr {
	if e == nil {
		return nil
	}
	return unwrapOperand(r.expr(e, true))
}

func (r *rewriter) exprs(list []syntax.Expr) {
	for i, e := range list {
		list[i] = r.expr(e, true)
	}
}

// expr rewrites e and returns the replacement
func (r *rewriter) expr(e syntax.Expr, value bool) syntax.Expr {
	switch x := e.(type) {
	case nil:
		return nil
	case *syntax.Ident:
		return r.ident(x, value)
	case *syntax.Literal:
		return x
	case *syntax.DotExpr:
		x.X = r.expr(x.X, false)
		return x
	case *syntax.CallExpr:
		return r.callExpr(x)
	case *syntax.BinaryExpr:
		x.X = r.expr(x.X, true)
		x.Y = r.expr(x.Y, true)
		if isComparison(x.Op) {
			x.X = unwrapOperand(x.X)
			x.Y = unwrapOperand(x.Y)
		}
		return x
	case *syntax.UnaryExpr:
		if x.Op == syntax.NOT {
			x.X = r.cond(x.X)
			return x
		}
		x.X = r.expr(x.X, true)
		return x
	case *syntax.CondExpr:
		x.Cond = r.cond(x.Cond)
		x.True = r.expr(x.True, true)
		x.False = r.expr(x.False, true)
		return x
	case *syntax.IndexExpr:
		x.X = r.expr(x.X, false)
		x.Y = r.expr(x.Y, true)
		return x
	case *syntax.SliceExpr:
		x.X = r.expr(x.X, true)
		x.Lo = r.expr(x.Lo, true)
		x.Hi = r.expr(x.Hi, true)
		x.Step = r.expr(x.Step, true)
		return x
	case *syntax.ListExpr:
		r.exprs(x.List)
		return x
	case *syntax.TupleExpr:
		r.exprs(x.List)
		return x
	case *syntax.DictExpr:
		for _, entry := range x.List {
			if de, ok := entry.(*syntax.DictEntry); ok {
				de.Key = r.expr(de.Key, true)
				de.Value = r.expr(de.Value, true)
			}
		}
		return x
	case *syntax.ParenExpr:
		x.X = r.expr(x.X, value)
		return x
	case *syntax.Comprehension:
		r.push(make(map[string]bool))
		for _, clause := range x.Clauses {
			switch cl := clause.(type) {
			case *syntax.ForClause:
				cl.X = r.expr(cl.X, true)
				scope := r.scopes[len(r.scopes)-1]
				targetNames(cl.Vars, func(name string) { scope[name] = true })
			case *syntax.IfClause:
				cl.Cond = r.cond(cl.Cond)
			}
		}
		if de, ok := x.Body.(*syntax.DictEntry); ok {
			de.Key = r.expr(de.Key, true)
			de.Value = r.expr(de.Value, true)
		} else {
			x.Body = r.expr(x.Body, true)
		}
		r.pop()
		return x
	case *syntax.LambdaExpr:
		r.push(r.params(x.Params))
		x.Body = r.expr(x.Body, true)
		r.pop()
		return x
	}
	return e
}

// callExpr rewrites a call. Calls to async builtins are wrapped in wait().
func (r *rewriter) callExpr(x *syntax.CallExpr) syntax.Expr {
	name := ""
	if id, ok := x.Fn.(*syntax.Ident); ok && !r.isLocal(id.Name) {
		if _, local := r.locals[id.Name]; !local {
			name = id.Name
		}
	}
	x.Fn = r.expr(x.Fn, false)
	for i, arg := range x.Args {
		switch a := arg.(type) {
		case *syntax.BinaryExpr:
			if a.Op == syntax.EQ {
				a.Y = r.expr(a.Y, true)
				continue
			}
		case *syntax.UnaryExpr:
			if a.Op == syntax.STAR || a.Op == syntax.STARSTAR {
				a.X = r.expr(a.X, true)
				continue
			}
		}
		x.Args[i] = r.expr(arg, true)
	}

	if name == "" {
		if dot, ok := x.Fn.(*syntax.DotExpr); ok {
			if self, ok := dot.X.(*syntax.Ident); ok && self.Name == "self" && r.syms.async[dot.Name.Name] {
				r.async = true
			}
		}
		return x
	}
	if r.syms.async[name] {
		r.async = true
	}
	if r.syms.asyncBuiltin[name] && !r.syms.members[name] && !r.syms.methods[name] {
		return builtin(x.Lparen, "wait", x)
	}
	return x
}

// params rewrites parameter defaults and returns the names the
// parameters bind
func (r *rewriter) params(params []syntax.Expr) map[string]bool {
	names := make(map[string]bool)
	for _, p := range params {
		switch x := p.(type) {
		case *syntax.Ident:
			names[x.Name] = true
		case *syntax.BinaryExpr:
			x.Y = r.expr(x.Y, true)
			if id, ok := x.X.(*syntax.Ident); ok {
				names[id.Name] = true
			}
		case *syntax.UnaryExpr:
			if id, ok := x.X.(*syntax.Ident); ok {
				names[id.Name] = true
			}
		}
	}
	return names
}

// target rewrites an assignment target
func (r *rewriter) target(e syntax.Expr) syntax.Expr {
	switch x := e.(type) {
	case *syntax.Ident:
		if r.isLocal(x.Name) || x.Name == "self" {
			return x
		}
		if _, ok := r.locals[x.Name]; ok {
			return &syntax.Ident{NamePos: x.NamePos, Name: r.use(x.Name)}
		}
		return member(x.NamePos, x.Name)
	case *syntax.TupleExpr:
		for i, el := range x.List {
			x.List[i] = r.target(el)
		}
	case *syntax.ListExpr:
		for i, el := range x.List {
			x.List[i] = r.target(el)
		}
	case *syntax.ParenExpr:
		x.X = r.target(x.X)
	case *syntax.DotExpr:
		x.X = r.expr(x.X, false)
	case *syntax.IndexExpr:
		x.X = r.expr(x.X, false)
		x.Y = r.expr(x.Y, true)
	}
	return e
}

// localNames returns the names a function body binds locally: its
// parameters, loop variables, nested functions, and assigned names that
// are not page members
func (r *rewriter) localNames(params map[string]bool, body []syntax.Stmt) map[string]bool {
	names := make(map[string]bool, len(params))
	for name := range params {
		names[name] = true
	}
	collectAssigned(body, false, func(name string) {
		if !r.syms.members[name] {
			names[name] = true
		}
	})
	collectLoopVars(body, func(name string) { names[name] = true })
	var defs func(stmts []syntax.Stmt)
	defs = func(stmts []syntax.Stmt) {
		for _, stmt := range stmts {
			switch st := stmt.(type) {
			case *syntax.DefStmt:
				names[st.Name.Name] = true
			case *syntax.IfStmt:
				defs(st.True)
				defs(st.False)
			case *syntax.ForStmt:
				defs(st.Body)
			case *syntax.WhileStmt:
				defs(st.Body)
			}
		}
	}
	defs(body)
	return names
}

func (r *rewriter) stmts(list []syntax.Stmt) {
	for _, stmt := range list {
		r.stmt(stmt)
	}
}

func (r *rewriter) stmt(stmt syntax.Stmt) {
	switch st := stmt.(type) {
	case *syntax.ExprStmt:
		st.X = r.expr(st.X, true)
	case *syntax.AssignStmt:
		st.RHS = r.expr(st.RHS, true)
		st.LHS = r.target(st.LHS)
	case *syntax.IfStmt:
		st.Cond = r.cond(st.Cond)
		r.stmts(st.True)
		r.stmts(st.False)
	case *syntax.ForStmt:
		st.X = r.expr(st.X, true)
		st.Vars = r.target(st.Vars)
		r.stmts(st.Body)
	case *syntax.WhileStmt:
		st.Cond = r.cond(st.Cond)
		r.stmts(st.Body)
	case *syntax.ReturnStmt:
		st.Result = r.expr(st.Result, true)
	case *syntax.DefStmt:
		r.function(st)
	}
}

// function rewrites a nested function definition
func (r *rewriter) function(def *syntax.DefStmt) {
	params := r.params(def.Params)
	r.push(r.localNames(params, def.Body))
	r.stmts(def.Body)
	r.pop()
}
