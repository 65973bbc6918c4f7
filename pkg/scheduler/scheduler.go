package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/recera/wirepage/pkg/runtime"
)

// RenderFunc renders the pending changes of a page. A nil update means
// nothing changed since the last delivery.
type RenderFunc func(ctx context.Context) (*runtime.Update, error)

// ErrorHandler handles render errors and panics.
// Returns true to keep the fiber scheduled, false to remove it
type ErrorHandler func(fiber *Fiber, err interface{}) bool

// Fiber is the push queue of one page instance. Pushes coalesce while the
// fiber is dirty and renders of one fiber never overlap.
type Fiber struct {
	id   uint32
	name string

	render RenderFunc

	dirty atomic.Bool

	onError ErrorHandler

	userData interface{}
}

var debugLog func(args ...interface{})

// SetDebugLog sets the debug logging function
func SetDebugLog(fn func(args ...interface{})) {
	debugLog = fn
}

// Scheduler delivers queued page pushes from a single loop
type Scheduler struct {
	mu         sync.Mutex
	fibers     map[uint32]*Fiber
	nextID     uint32
	dirtyQueue []*Fiber
	globalWake chan *Fiber
	running    atomic.Bool
	stop       chan struct{}
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc

	applyUpdate  func(fiber *Fiber, u *runtime.Update)
	defaultError ErrorHandler
}

// NewScheduler creates a new scheduler instance
func NewScheduler() *Scheduler {
	return &Scheduler{
		fibers:     make(map[uint32]*Fiber),
		globalWake: make(chan *Fiber, 1024),
	}
}

// SetUpdateApplier sets the function that delivers rendered updates
func (s *Scheduler) SetUpdateApplier(applier func(fiber *Fiber, u *runtime.Update)) {
	s.applyUpdate = applier
}

// SetDefaultErrorHandler sets the handler used by fibers without their own
func (s *Scheduler) SetDefaultErrorHandler(handler ErrorHandler) {
	s.defaultError = handler
}

// CreateFiber registers a new fiber. It renders only once marked dirty.
func (s *Scheduler) CreateFiber(name string, render RenderFunc) *Fiber {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	fiber := &Fiber{
		id:      s.nextID,
		name:    name,
		render:  render,
		onError: s.defaultError,
	}
	s.fibers[fiber.id] = fiber
	if debugLog != nil {
		debugLog("[Scheduler] Created fiber", fiber.id, name)
	}
	return fiber
}

// RemoveFiber removes a fiber. A pending push of it is dropped.
func (s *Scheduler) RemoveFiber(fiber *Fiber) {
	if fiber == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fibers, fiber.id)
}

// MarkDirty queues a push for fiber. It never blocks and is safe to call
// from any goroutine, including while the fiber is rendering.
func (s *Scheduler) MarkDirty(fiber *Fiber) {
	if fiber == nil {
		return
	}
	if !fiber.dirty.CompareAndSwap(false, true) {
		if debugLog != nil {
			debugLog("[Scheduler] Fiber", fiber.id, "already dirty")
		}
		return
	}
	select {
	case s.globalWake <- fiber:
	default:
		// picked up by the next batch
		s.mu.Lock()
		s.dirtyQueue = append(s.dirtyQueue, fiber)
		s.mu.Unlock()
		if debugLog != nil {
			debugLog("[Scheduler] Wake channel full for fiber", fiber.id)
		}
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.loop()
}

// Stop ends the loop and waits for the batch in progress
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	close(s.stop)
	<-s.done
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		var fiber *Fiber
		select {
		case fiber = <-s.globalWake:
		case <-s.stop:
			return
		}

		batch := []*Fiber{fiber}
	drainLoop:
		for {
			select {
			case f := <-s.globalWake:
				batch = append(batch, f)
			default:
				break drainLoop
			}
		}
		s.mu.Lock()
		batch = append(batch, s.dirtyQueue...)
		s.dirtyQueue = nil
		s.mu.Unlock()

		if debugLog != nil {
			debugLog("[Scheduler] Processing batch of", len(batch), "fibers")
		}
		for _, f := range batch {
			s.processFiber(f)
		}
	}
}

// processFiber renders one fiber and delivers its update
func (s *Scheduler) processFiber(fiber *Fiber) {
	// cleared before rendering so a push during the render queues again
	if !fiber.dirty.CompareAndSwap(true, false) {
		return
	}
	if s.GetFiber(fiber.id) == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.handleFiberError(fiber, fmt.Sprintf("Fiber %d panic: %v\n%s", fiber.id, r, debug.Stack()))
		}
	}()

	u, err := fiber.render(s.ctx)
	if err != nil {
		s.handleFiberError(fiber, err)
		return
	}
	if u == nil {
		return
	}
	if debugLog != nil {
		debugLog("[Scheduler] Delivering", u.Type, "update for fiber", fiber.id)
	}
	if s.applyUpdate != nil {
		s.applyUpdate(fiber, u)
	}
}

func (s *Scheduler) handleFiberError(fiber *Fiber, err interface{}) {
	if debugLog != nil {
		debugLog("[Scheduler] Fiber", fiber.id, "error:", err)
	}
	shouldContinue := false
	if fiber.onError != nil {
		shouldContinue = fiber.onError(fiber, err)
	}
	if !shouldContinue {
		s.RemoveFiber(fiber)
	}
}

// GetFiber returns a fiber by ID
func (s *Scheduler) GetFiber(id uint32) *Fiber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fibers[id]
}

// FiberCount returns the number of active fibers
func (s *Scheduler) FiberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fibers)
}

// SetUserData sets custom data on a fiber
func (f *Fiber) SetUserData(data interface{}) {
	f.userData = data
}

// GetUserData returns the custom data of a fiber
func (f *Fiber) GetUserData() interface{} {
	return f.userData
}

// ID returns the fiber's unique identifier
func (f *Fiber) ID() uint32 {
	return f.id
}

// Name returns the name the fiber was created with
func (f *Fiber) Name() string {
	return f.name
}

// SetErrorHandler sets the fiber's error handler
func (f *Fiber) SetErrorHandler(handler ErrorHandler) {
	f.onError = handler
}
