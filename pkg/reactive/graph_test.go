package reactive

import (
	"errors"
	"testing"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type recorder struct {
	reads       map[Key][]string
	invalidated []Key
}

func newRecorder() *recorder {
	return &recorder{reads: make(map[Key][]string)}
}

func (r *recorder) RegisterRead(key Key, region string) {
	r.reads[key] = append(r.reads[key], region)
}

func (r *recorder) InvalidateKey(key Key) {
	r.invalidated = append(r.invalidated, key)
}

func (r *recorder) sawInvalidation(key Key) bool {
	for _, k := range r.invalidated {
		if k == key {
			return true
		}
	}
	return false
}

func mustInt(t *testing.T, v starlark.Value) int {
	t.Helper()
	i, err := starlark.AsInt32(v)
	if err != nil {
		t.Fatalf("Expected int, got %s (%v)", v.Type(), err)
	}
	return i
}

func TestDerived_Memoization(t *testing.T) {
	g := NewGraph()
	a := NewWire(g, starlark.MakeInt(1))

	calls := 0
	d := NewDerived(g, "double", func() (starlark.Value, error) {
		calls++
		return starlark.Binary(syntax.STAR, a.Get(), starlark.MakeInt(2))
	})

	for i := 0; i < 5; i++ {
		v, err := d.Value()
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := mustInt(t, v); got != 2 {
			t.Errorf("Expected 2, got %d", got)
		}
	}
	if calls != 1 {
		t.Errorf("Expected 1 computation for repeated reads, got %d", calls)
	}

	if err := a.Set(starlark.MakeInt(5)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !d.Dirty() {
		t.Error("Expected derived to be dirty after a source write")
	}
	if calls != 1 {
		t.Errorf("Expected no eager recompute, got %d computations", calls)
	}

	v, err := d.Value()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := mustInt(t, v); got != 10 {
		t.Errorf("Expected 10, got %d", got)
	}
	if calls != 2 {
		t.Errorf("Expected 2 computations, got %d", calls)
	}
}

func TestDerived_Chain(t *testing.T) {
	g := NewGraph()
	a := NewWire(g, starlark.MakeInt(1))
	plusOne := NewDerived(g, "plus_one", func() (starlark.Value, error) {
		return starlark.Binary(syntax.PLUS, a.Get(), starlark.MakeInt(1))
	})
	timesTen := NewDerived(g, "times_ten", func() (starlark.Value, error) {
		v, err := plusOne.Value()
		if err != nil {
			return nil, err
		}
		return starlark.Binary(syntax.STAR, v, starlark.MakeInt(10))
	})

	v, _ := timesTen.Value()
	if got := mustInt(t, v); got != 20 {
		t.Errorf("Expected 20, got %d", got)
	}

	_ = a.Set(starlark.MakeInt(2))
	if !timesTen.Dirty() {
		t.Error("Expected downstream derived to be dirty")
	}
	v, _ = timesTen.Value()
	if got := mustInt(t, v); got != 30 {
		t.Errorf("Expected 30, got %d", got)
	}
}

func TestDerived_CircularDependency(t *testing.T) {
	g := NewGraph()
	var d *Derived
	d = NewDerived(g, "loop", func() (starlark.Value, error) {
		return d.Value()
	})

	_, err := d.Value()
	var circ *CircularDependencyError
	if !errors.As(err, &circ) {
		t.Fatalf("Expected CircularDependencyError, got %v", err)
	}
	if circ.Derived != "loop" {
		t.Errorf("Expected derived name loop, got %q", circ.Derived)
	}
}

func TestDerived_WriteInsideComputeFails(t *testing.T) {
	g := NewGraph()
	a := NewWire(g, starlark.MakeInt(0))
	d := NewDerived(g, "bad", func() (starlark.Value, error) {
		if err := a.Set(starlark.MakeInt(5)); err != nil {
			return nil, err
		}
		return starlark.None, nil
	})

	_, err := d.Value()
	var re *ReactivityError
	if !errors.As(err, &re) {
		t.Fatalf("Expected ReactivityError, got %v", err)
	}
	if got := mustInt(t, a.Peek()); got != 0 {
		t.Errorf("Expected rejected write to leave value 0, got %d", got)
	}
}

func TestEffect_BatchRunsOnceWithFinalValue(t *testing.T) {
	g := NewGraph()
	a := NewWire(g, starlark.MakeInt(0))

	var seen []int
	e, err := NewEffect(g, "log", func() error {
		seen = append(seen, mustInt(t, a.Get()))
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if e.Runs() != 1 {
		t.Errorf("Expected effect to run on creation, got %d runs", e.Runs())
	}

	err = g.Batch(func() error {
		for i := 1; i <= 3; i++ {
			if err := a.Set(starlark.MakeInt(i)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if e.Runs() != 2 {
		t.Errorf("Expected 2 runs after batch, got %d", e.Runs())
	}
	if len(seen) != 2 || seen[1] != 3 {
		t.Errorf("Expected effect to observe final value 3, got %v", seen)
	}

	e.Dispose()
	_ = a.Set(starlark.MakeInt(4))
	if e.Runs() != 2 {
		t.Errorf("Expected disposed effect not to run, got %d runs", e.Runs())
	}
}

func TestEffect_EqualWriteIsNoop(t *testing.T) {
	g := NewGraph()
	a := NewWire(g, starlark.String("same"))
	e, _ := NewEffect(g, "watch", func() error {
		a.Get()
		return nil
	})

	_ = a.Set(starlark.String("same"))
	if e.Runs() != 1 {
		t.Errorf("Expected equal write to be a no-op, got %d runs", e.Runs())
	}
	_ = a.Set(starlark.String("other"))
	if e.Runs() != 2 {
		t.Errorf("Expected changed write to rerun, got %d runs", e.Runs())
	}
}

func TestGraph_DisposeAll(t *testing.T) {
	g := NewGraph()
	a := NewWire(g, starlark.MakeInt(0))
	e1, _ := NewEffect(g, "one", func() error { a.Get(); return nil })
	e2, _ := NewEffect(g, "two", func() error { a.Get(); return nil })

	g.DisposeAll()
	_ = a.Set(starlark.MakeInt(1))

	if !e1.Disposed() || !e2.Disposed() {
		t.Error("Expected every effect to be disposed")
	}
	if e1.Runs() != 1 || e2.Runs() != 1 {
		t.Errorf("Expected no reruns after DisposeAll, got %d and %d", e1.Runs(), e2.Runs())
	}
}

func TestScope_RegistersReadsPerRegion(t *testing.T) {
	g := NewGraph()
	rec := newRecorder()
	a := NewWire(g, starlark.MakeInt(1))
	b := NewWire(g, starlark.MakeInt(2))

	_ = g.WithScope(&Scope{Listener: rec, Region: "r1"}, func() error {
		a.Get()
		return nil
	})
	_ = g.WithScope(&Scope{Listener: rec}, func() error {
		b.Get()
		return nil
	})
	b.Get()

	if regions := rec.reads[Key{Source: a.ID(), Field: "value"}]; len(regions) != 1 || regions[0] != "r1" {
		t.Errorf("Expected a read in region r1, got %v", regions)
	}
	if regions := rec.reads[Key{Source: b.ID(), Field: "value"}]; len(regions) != 1 || regions[0] != "" {
		t.Errorf("Expected one root-scope read of b, got %v", regions)
	}
	if g.CurrentScope() != nil {
		t.Error("Expected scope to be restored after WithScope")
	}

	_ = a.Set(starlark.MakeInt(3))
	if !rec.sawInvalidation(Key{Source: a.ID(), Field: "value"}) {
		t.Error("Expected write to invalidate the listener")
	}
}

func TestScope_SuspendResume(t *testing.T) {
	g := NewGraph()
	rec := newRecorder()
	a := NewWire(g, starlark.MakeInt(1))

	_ = g.WithScope(&Scope{Listener: rec, Region: "r2"}, func() error {
		frame := g.Suspend()
		a.Get()
		if g.CurrentScope() != nil {
			t.Error("Expected no scope while suspended")
		}
		g.Resume(frame)
		if s := g.CurrentScope(); s == nil || s.Region != "r2" {
			t.Errorf("Expected scope r2 after resume, got %v", s)
		}
		return nil
	})

	if len(rec.reads) != 0 {
		t.Errorf("Expected reads while suspended to go untracked, got %v", rec.reads)
	}
}

func TestList_NestedProxyBubbles(t *testing.T) {
	g := NewGraph()
	rec := newRecorder()
	inner := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
	l := NewList(g, []starlark.Value{inner})

	var nested *WireList
	_ = g.WithScope(&Scope{Listener: rec, Region: "r1"}, func() error {
		nested, _ = l.Index(0).(*WireList)
		return nil
	})
	if nested == nil {
		t.Fatal("Expected nested list to be proxied")
	}
	if again, _ := l.Index(0).(*WireList); again != nested {
		t.Error("Expected nested proxy to be memoized")
	}

	if err := nested.Append(starlark.MakeInt(2)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !rec.sawInvalidation(Key{Source: l.ID(), Field: "value"}) {
		t.Error("Expected nested write to invalidate the parent list")
	}
}

func TestNamespace_FieldGranularity(t *testing.T) {
	g := NewGraph()
	rec := newRecorder()
	ns := NewNamespace(g, []starlark.Tuple{
		{starlark.String("x"), starlark.MakeInt(1)},
		{starlark.String("y"), starlark.MakeInt(2)},
	})

	_ = g.WithScope(&Scope{Listener: rec, Region: "r1"}, func() error {
		_, err := ns.Attr("x")
		return err
	})
	if _, ok := rec.reads[Key{Source: ns.ID(), Field: "x"}]; !ok {
		t.Error("Expected read of field x to be registered")
	}

	if err := ns.SetField("y", starlark.MakeInt(3)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rec.sawInvalidation(Key{Source: ns.ID(), Field: "x"}) {
		t.Error("Expected write to y not to invalidate x")
	}
	if !rec.sawInvalidation(Key{Source: ns.ID(), Field: "y"}) {
		t.Error("Expected write to y to invalidate y")
	}
	if !rec.sawInvalidation(Key{Source: ns.ID(), Field: "value"}) {
		t.Error("Expected write to y to invalidate the whole value")
	}
}

func TestDict_EqualSetKeyIsNoop(t *testing.T) {
	g := NewGraph()
	d := NewDict(g, nil)
	_ = d.SetKey(starlark.String("k"), starlark.MakeInt(1))

	e, _ := NewEffect(g, "watch", func() error {
		d.Len()
		return nil
	})
	_ = d.SetKey(starlark.String("k"), starlark.MakeInt(1))
	if e.Runs() != 1 {
		t.Errorf("Expected equal SetKey to be a no-op, got %d runs", e.Runs())
	}
	_ = d.SetKey(starlark.String("k"), starlark.MakeInt(2))
	if e.Runs() != 2 {
		t.Errorf("Expected changed SetKey to rerun, got %d runs", e.Runs())
	}
}

func TestFrozenWireRejectsWrites(t *testing.T) {
	g := NewGraph()
	a := NewWire(g, starlark.MakeInt(1))
	a.Freeze()

	var fe *FrozenError
	if err := a.Set(starlark.MakeInt(2)); !errors.As(err, &fe) {
		t.Errorf("Expected FrozenError, got %v", err)
	}
}

func TestUnwrap(t *testing.T) {
	g := NewGraph()
	w := NewWire(g, starlark.MakeInt(7))
	plain := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
	mixed := starlark.Tuple{w, starlark.String("x")}

	tests := []struct {
		name string
		in   starlark.Value
		want string
	}{
		{"wire", w, "7"},
		{"plain list", plain, "[1]"},
		{"tuple with wire", mixed, `(7, "x")`},
		{"list proxy", NewList(g, []starlark.Value{starlark.MakeInt(1), starlark.MakeInt(2)}), "[1, 2]"},
		{"none", nil, "None"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unwrap(tt.in)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.String())
			}
			if IsReactive(got) {
				t.Errorf("Expected plain value, got %s", got.Type())
			}
		})
	}

	got, _ := Unwrap(plain)
	if got != starlark.Value(plain) {
		t.Error("Expected a plain list to be returned unchanged")
	}
}

func TestBuiltins_Starlark(t *testing.T) {
	g := NewGraph()
	thread := g.NewThread("test")

	src := `
count = wire(1)
items = wire([1, 2])
point = wire(x = 1, y = 2)

def tens():
    return count.value * 10

total = derived(tens)
first = total.value
count.value = 2
second = total.value

items.append(3)
size = len(items)

point.x = 5
px = point.x

log = []
def watch():
    log.append(count.value)

e = effect(watch)

def bump():
    count.value = 3
    count.value = 4

batch(bump)
logged = list(log)
`
	globals, err := starlark.ExecFile(thread, "test.star", src, Builtins())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	tests := []struct {
		name string
		want string
	}{
		{"first", "10"},
		{"second", "20"},
		{"size", "3"},
		{"px", "5"},
		{"logged", "[2, 4]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := globals[tt.name]
			if !ok {
				t.Fatalf("Expected global %s", tt.name)
			}
			if v.String() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, v.String())
			}
		})
	}
}

func TestBuiltins_WireWithoutGraph(t *testing.T) {
	thread := &starlark.Thread{Name: "bare"}
	_, err := starlark.ExecFile(thread, "bare.star", "w = wire(1)\n", Builtins())
	if err == nil {
		t.Error("Expected error when no graph is attached to the thread")
	}
}
