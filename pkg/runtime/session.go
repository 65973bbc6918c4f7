package runtime

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/recera/wirepage/pkg/reactive"
	"github.com/recera/wirepage/pkg/styling"
	"go.starlark.net/starlark"
)

// rootRegion is the region of reads made outside any extracted region.
// A write to one of its dependencies forces a full render.
const rootRegion = ""

// regionProc is the procedure that re-renders one region, bound to the
// page instance that owns it
type regionProc struct {
	page   *Page
	proc   Proc
	locals *Locals
}

// session is the state shared by a root page and every component instance
// rendered inside it
type session struct {
	graph *reactive.Graph

	// loop is held while starlark code runs; op serializes the public
	// operations so two renders or handlers never interleave
	loop sync.Mutex
	op   sync.Mutex

	subscribers map[reactive.Key]map[string]struct{}
	deps        map[string]map[reactive.Key]struct{}
	dirty       map[string]struct{}

	capturing bool
	captured  bool
	rendering bool

	cache  map[string]starlark.Value
	counts map[string]int

	regions  map[string]regionProc
	awaits   map[string]*awaitState
	// instances are component pages by render site; children are the
	// same pages by handler prefix
	instances map[string]*Page
	children  map[string]*Page
	childIDs  map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	push   func()
	styles *styling.Collector
	debug  bool
}

func newSession(styles *styling.Collector, push func(), debug bool) *session {
	if styles == nil {
		styles = styling.NewCollector()
	}
	s := &session{
		graph:       reactive.NewGraph(),
		subscribers: make(map[reactive.Key]map[string]struct{}),
		deps:        make(map[string]map[reactive.Key]struct{}),
		dirty:       make(map[string]struct{}),
		cache:       make(map[string]starlark.Value),
		counts:      make(map[string]int),
		regions:     make(map[string]regionProc),
		awaits:      make(map[string]*awaitState),
		instances:   make(map[string]*Page),
		children:    make(map[string]*Page),
		childIDs:    make(map[string]int),
		push:        push,
		styles:      styles,
		debug:       debug,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// RegisterRead records a dependency edge between key and region
func (s *session) RegisterRead(key reactive.Key, region string) {
	regions, ok := s.subscribers[key]
	if !ok {
		regions = make(map[string]struct{})
		s.subscribers[key] = regions
	}
	regions[region] = struct{}{}

	deps, ok := s.deps[region]
	if !ok {
		deps = make(map[reactive.Key]struct{})
		s.deps[region] = deps
	}
	deps[key] = struct{}{}

	if s.capturing {
		s.captured = true
	}
	if debugLog != nil && s.debug {
		debugLog("[Page] read", key.Source, key.Field, "region:", region)
	}
}

// InvalidateKey marks every region that read key as dirty
func (s *session) InvalidateKey(key reactive.Key) {
	for region := range s.subscribers[key] {
		s.dirty[region] = struct{}{}
	}
	if debugLog != nil && s.debug {
		debugLog("[Page] invalidate", key.Source, key.Field, "dirty:", len(s.dirty))
	}
}

// beginRegion tears down the previous dependency edges of one region
func (s *session) beginRegion(region string) {
	for key := range s.deps[region] {
		if regions, ok := s.subscribers[key]; ok {
			delete(regions, region)
			if len(regions) == 0 {
				delete(s.subscribers, key)
			}
		}
	}
	s.deps[region] = make(map[reactive.Key]struct{})
}

func (s *session) clearTracking() {
	s.subscribers = make(map[reactive.Key]map[string]struct{})
	s.deps = make(map[string]map[reactive.Key]struct{})
	s.dirty = make(map[string]struct{})
}

func (s *session) markDirty(region string) {
	s.dirty[region] = struct{}{}
}

// dirtyRegions returns the dirty set in a fixed order
func (s *session) dirtyRegions() []string {
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// cached evaluates compute once per call site and execution count. The
// value is kept only when computing it read no reactive value.
func (s *session) cached(key string, compute func() (starlark.Value, error)) (starlark.Value, error) {
	n := s.counts[key]
	s.counts[key] = n + 1
	slot := key + ":" + strconv.Itoa(n)
	if v, ok := s.cache[slot]; ok {
		return v, nil
	}

	prevCapturing, prevCaptured := s.capturing, s.captured
	s.capturing, s.captured = true, false
	v, err := compute()
	readAny := s.captured
	s.capturing, s.captured = prevCapturing, prevCaptured || readAny
	if err != nil {
		return nil, err
	}
	if !readAny {
		s.cache[slot] = v
	}
	return v, nil
}

func (s *session) resetCounts() {
	s.counts = make(map[string]int)
}

// cancelTasks stops every background await task and waits for them
func (s *session) cancelTasks() {
	s.cancel()
	s.loop.Unlock()
	s.tasks.Wait()
	s.loop.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.awaits = make(map[string]*awaitState)
}

// requestPush asks the host to deliver an update. The callback must queue
// the delivery; it runs while page state may be locked.
func (s *session) requestPush() {
	if s.push != nil {
		s.push()
	}
}
