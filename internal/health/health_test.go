package health

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("settings_store", func(_ context.Context) Status {
		return Status{Name: "settings_store", Healthy: true}
	})
	r.Register("pending_sweeper", func(_ context.Context) Status {
		return Status{Name: "pending_sweeper", Healthy: false, Detail: "not running"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy critical checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "not running" {
		t.Fatalf("expected detail 'not running', got %q", statuses[1].Detail)
	}
}

func TestRegistryOptionalDoesNotFail(t *testing.T) {
	r := NewRegistry()
	r.RegisterOptional("backend", func(_ context.Context) Status {
		return Status{Healthy: false, Detail: "circuit open"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("optional checker failure should not make registry unhealthy")
	}
	if statuses[0].Name != "backend" || statuses[0].Critical {
		t.Fatalf("unexpected status %+v", statuses[0])
	}
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry()
	r.timeout = 20 * time.Millisecond
	r.Register("slow", func(ctx context.Context) Status {
		<-ctx.Done()
		return Status{Healthy: false, Detail: ctx.Err().Error()}
	})

	start := time.Now()
	healthy, _ := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("timed-out checker should be unhealthy")
	}
	if time.Since(start) > time.Second {
		t.Fatal("checker was not bounded by timeout")
	}
}

type testState string

func (s testState) String() string { return string(s) }

func TestStateChecker(t *testing.T) {
	current := testState("closed")
	check := StateChecker("breaker", func() testState { return current }, "closed", "half-open")

	if s := check(context.Background()); !s.Healthy {
		t.Fatalf("closed should be healthy: %+v", s)
	}
	current = "open"
	s := check(context.Background())
	if s.Healthy || s.Detail != "state open" {
		t.Fatalf("open should be unhealthy with detail: %+v", s)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
