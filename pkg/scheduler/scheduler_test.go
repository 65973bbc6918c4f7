package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recera/wirepage/pkg/runtime"
)

func regions(ids ...string) *runtime.Update {
	u := &runtime.Update{Type: runtime.UpdateRegions}
	for _, id := range ids {
		u.Regions = append(u.Regions, runtime.RegionUpdate{Region: id, HTML: id})
	}
	return u
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func TestScheduler_CreateFiber(t *testing.T) {
	sched := NewScheduler()

	renderCalled := false
	fiber := sched.CreateFiber("index", func(ctx context.Context) (*runtime.Update, error) {
		renderCalled = true
		return nil, nil
	})

	if fiber == nil {
		t.Fatal("CreateFiber returned nil")
	}
	if fiber.ID() == 0 {
		t.Error("Fiber ID should not be 0")
	}
	if fiber.Name() != "index" {
		t.Errorf("Expected name index, got %s", fiber.Name())
	}
	if renderCalled {
		t.Error("Render should not be called during creation")
	}
	if sched.FiberCount() != 1 {
		t.Errorf("Expected 1 fiber, got %d", sched.FiberCount())
	}
	if sched.GetFiber(fiber.ID()) != fiber {
		t.Error("Expected GetFiber to return the created fiber")
	}
}

func TestScheduler_MarkDirtyDelivers(t *testing.T) {
	sched := NewScheduler()

	var renderCount atomic.Int32
	delivered := make(chan *runtime.Update, 4)
	sched.SetUpdateApplier(func(f *Fiber, u *runtime.Update) {
		delivered <- u
	})
	fiber := sched.CreateFiber("index", func(ctx context.Context) (*runtime.Update, error) {
		renderCount.Add(1)
		return regions("u1r0"), nil
	})

	sched.Start()
	defer sched.Stop()

	for i := 1; i <= 2; i++ {
		sched.MarkDirty(fiber)
		select {
		case u := <-delivered:
			if len(u.Regions) != 1 || u.Regions[0].Region != "u1r0" {
				t.Errorf("Expected region u1r0, got %+v", u.Regions)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for delivery %d", i)
		}
		if got := renderCount.Load(); got != int32(i) {
			t.Errorf("Expected %d renders, got %d", i, got)
		}
	}
}

func TestScheduler_CoalescesWhileRendering(t *testing.T) {
	sched := NewScheduler()

	var renderCount atomic.Int32
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	finished := make(chan struct{}, 4)

	fiber := sched.CreateFiber("index", func(ctx context.Context) (*runtime.Update, error) {
		n := renderCount.Add(1)
		started <- struct{}{}
		if n == 1 {
			<-release
		}
		finished <- struct{}{}
		return nil, nil
	})

	sched.Start()
	defer sched.Stop()

	sched.MarkDirty(fiber)
	waitFor(t, started, "first render")

	// pushes during a render queue exactly one more render
	sched.MarkDirty(fiber)
	sched.MarkDirty(fiber)
	sched.MarkDirty(fiber)
	close(release)

	waitFor(t, finished, "first render to finish")
	waitFor(t, finished, "second render")
	time.Sleep(50 * time.Millisecond)

	if got := renderCount.Load(); got != 2 {
		t.Errorf("Expected 2 renders, got %d", got)
	}
}

func TestScheduler_NilUpdateNotDelivered(t *testing.T) {
	sched := NewScheduler()

	var applied atomic.Int32
	sched.SetUpdateApplier(func(f *Fiber, u *runtime.Update) {
		applied.Add(1)
	})
	rendered := make(chan struct{}, 1)
	fiber := sched.CreateFiber("idle", func(ctx context.Context) (*runtime.Update, error) {
		rendered <- struct{}{}
		return nil, nil
	})

	sched.Start()
	defer sched.Stop()

	sched.MarkDirty(fiber)
	waitFor(t, rendered, "render")
	time.Sleep(20 * time.Millisecond)

	if applied.Load() != 0 {
		t.Errorf("Expected no delivery, got %d", applied.Load())
	}
}

func TestScheduler_ErrorHandling(t *testing.T) {
	tests := []struct {
		name      string
		render    RenderFunc
		keep      bool
		wantErr   string
		wantCount int
	}{
		{
			name: "error removes fiber",
			render: func(ctx context.Context) (*runtime.Update, error) {
				return nil, errors.New("render failed")
			},
			keep:      false,
			wantErr:   "render failed",
			wantCount: 0,
		},
		{
			name: "panic recovered",
			render: func(ctx context.Context) (*runtime.Update, error) {
				panic("boom")
			},
			keep:      true,
			wantErr:   "panic: boom",
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := NewScheduler()
			handled := make(chan string, 1)
			sched.SetDefaultErrorHandler(func(f *Fiber, err interface{}) bool {
				handled <- fmtErr(err)
				return tt.keep
			})
			fiber := sched.CreateFiber(tt.name, tt.render)

			sched.Start()
			defer sched.Stop()
			sched.MarkDirty(fiber)

			select {
			case msg := <-handled:
				if !strings.Contains(msg, tt.wantErr) {
					t.Errorf("Expected error containing %q, got %q", tt.wantErr, msg)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Timed out waiting for the error handler")
			}
			time.Sleep(10 * time.Millisecond)
			if got := sched.FiberCount(); got != tt.wantCount {
				t.Errorf("Expected %d fibers, got %d", tt.wantCount, got)
			}
		})
	}
}

func fmtErr(err interface{}) string {
	switch e := err.(type) {
	case error:
		return e.Error()
	case string:
		return e
	}
	return ""
}

func TestScheduler_RemovedFiberNotRendered(t *testing.T) {
	sched := NewScheduler()

	var renderCount atomic.Int32
	fiber := sched.CreateFiber("gone", func(ctx context.Context) (*runtime.Update, error) {
		renderCount.Add(1)
		return nil, nil
	})
	sched.RemoveFiber(fiber)

	sched.Start()
	defer sched.Stop()
	sched.MarkDirty(fiber)
	time.Sleep(50 * time.Millisecond)

	if renderCount.Load() != 0 {
		t.Errorf("Expected no render, got %d", renderCount.Load())
	}
}

func TestScheduler_SerializesRenders(t *testing.T) {
	sched := NewScheduler()

	var inflight, overlap atomic.Int32
	var wg sync.WaitGroup
	render := func(ctx context.Context) (*runtime.Update, error) {
		if inflight.Add(1) > 1 {
			overlap.Add(1)
		}
		time.Sleep(time.Millisecond)
		inflight.Add(-1)
		return nil, nil
	}

	fibers := make([]*Fiber, 5)
	for i := range fibers {
		fibers[i] = sched.CreateFiber("page", render)
	}

	sched.Start()
	defer sched.Stop()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sched.MarkDirty(fibers[i%len(fibers)])
		}(i)
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if overlap.Load() != 0 {
		t.Errorf("Expected renders never to overlap, got %d overlaps", overlap.Load())
	}
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	sched := NewScheduler()
	sched.Stop()

	sched.Start()
	if !sched.IsRunning() {
		t.Error("Expected scheduler to be running")
	}
	sched.Stop()
	sched.Stop()
	if sched.IsRunning() {
		t.Error("Expected scheduler to be stopped")
	}

	fiber := sched.CreateFiber("late", func(ctx context.Context) (*runtime.Update, error) {
		return nil, nil
	})
	// must not block without a running loop
	sched.MarkDirty(fiber)
}
