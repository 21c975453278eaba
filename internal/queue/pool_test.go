package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBackend struct {
	connectErr     error
	healthCheckErr atomic.Value // error
	closed         int32
}

func (b *fakeBackend) Connect(ctx context.Context) error { return b.connectErr }

func (b *fakeBackend) HealthCheck(ctx context.Context) error {
	if v := b.healthCheckErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (b *fakeBackend) Close() error {
	atomic.StoreInt32(&b.closed, 1)
	return nil
}

func newFakeFactory() (BackendFactory, *int32) {
	var created int32
	factory := func(ctx context.Context) (Backend, error) {
		atomic.AddInt32(&created, 1)
		return &fakeBackend{}, nil
	}
	return factory, &created
}

func testConfig() Config {
	return Config{
		Min:              1,
		Max:              3,
		Target:           2,
		ScaleUpFactor:    2,
		LatencyThreshold: 50 * time.Millisecond,
		IdleTimeout:      50 * time.Millisecond,
		HealthInterval:   10 * time.Millisecond,
		LeaseTimeout:     time.Second,
		CancelGrace:      50 * time.Millisecond,
	}
}

func TestPoolSeedsMinSessions(t *testing.T) {
	factory, created := newFakeFactory()
	cfg := testConfig()
	cfg.Min = 2
	p, err := NewPool(context.Background(), cfg, factory)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Size() != 2 {
		t.Errorf("Size() = %d, want 2", p.Size())
	}
	if atomic.LoadInt32(created) != 2 {
		t.Errorf("created = %d, want 2", *created)
	}
}

func TestLeaseExclusivityAndGrowth(t *testing.T) {
	factory, _ := newFakeFactory()
	p, err := NewPool(context.Background(), testConfig(), factory)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sess1, release1, err := p.Lease(context.Background())
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if sess1.State() != StateBusy {
		t.Errorf("state = %v, want BUSY", sess1.State())
	}

	sess2, release2, err := p.Lease(context.Background())
	if err != nil {
		t.Fatalf("Lease() second call error = %v", err)
	}
	if sess2.ID == sess1.ID {
		t.Errorf("expected a distinct session grown on demand")
	}

	release1(nil)
	if sess1.State() != StateHealthy {
		t.Errorf("state after release(nil) = %v, want HEALTHY", sess1.State())
	}
	release2(errors.New("upstream failed"))
	if sess2.State() != StateReconnecting {
		t.Errorf("state after release(err) = %v, want RECONNECTING", sess2.State())
	}
}

func TestLeaseExhaustsAtMax(t *testing.T) {
	factory, _ := newFakeFactory()
	cfg := testConfig()
	cfg.Min, cfg.Max = 1, 1
	p, err := NewPool(context.Background(), cfg, factory)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, _, err = p.Lease(context.Background())
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if _, _, err := p.Lease(context.Background()); err != ErrNoSessionAvailable {
		t.Errorf("Lease() at max error = %v, want ErrNoSessionAvailable", err)
	}
}

func TestForceRecycleReplacesSession(t *testing.T) {
	factory, created := newFakeFactory()
	p, err := NewPool(context.Background(), testConfig(), factory)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var id string
	for sid := range p.sessions {
		id = sid
	}

	if err := p.ForceRecycle(context.Background(), id); err != nil {
		t.Fatalf("ForceRecycle() error = %v", err)
	}
	if p.Size() != 1 {
		t.Errorf("Size() after recycle = %d, want 1 (replacement created)", p.Size())
	}
	if atomic.LoadInt32(created) != 2 {
		t.Errorf("created = %d, want 2 (original + replacement)", *created)
	}
}

func TestShouldScaleUpRespectsMax(t *testing.T) {
	factory, _ := newFakeFactory()
	cfg := testConfig()
	cfg.Min, cfg.Max = 1, 1
	p, err := NewPool(context.Background(), cfg, factory)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.ShouldScaleUp(100, time.Second) {
		t.Errorf("ShouldScaleUp() = true at Max, want false")
	}
}

func TestConcurrentLeaseRelease(t *testing.T) {
	factory, _ := newFakeFactory()
	p, err := NewPool(context.Background(), testConfig(), factory)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, release, err := p.Lease(context.Background())
			if err != nil {
				return
			}
			release(nil)
			_ = sess
		}()
	}
	wg.Wait()
}
