package collab

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vrushitpatel/repoauditor/store"
)

func TestWindowLimiterActorLimit(t *testing.T) {
	ctx := context.Background()
	limiter := NewWindowLimiter(store.NewMemKV(), Limits{ActorPerHour: 2, PerRequestTotal: 100, RepoPerDay: 100})

	subject := Subject{Actor: "octocat", Repository: "octo/demo", RequestID: 1}

	for i := 0; i < 2; i++ {
		decision, err := limiter.CheckAndRecord(ctx, subject)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("check %d unexpectedly denied: %s", i, decision.Reason)
		}
	}

	decision, err := limiter.CheckAndRecord(ctx, subject)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed {
		t.Error("expected denial past actor limit")
	}
	if decision.Reason == "" {
		t.Error("denial must carry a reason")
	}
}

func TestWindowLimiterWindowExpiry(t *testing.T) {
	ctx := context.Background()
	limiter := NewWindowLimiter(store.NewMemKV(), Limits{ActorPerHour: 1, PerRequestTotal: 100, RepoPerDay: 100})

	base := time.Now()
	limiter.now = func() time.Time { return base }

	subject := Subject{Actor: "octocat", Repository: "octo/demo", RequestID: 2}
	if d, err := limiter.CheckAndRecord(ctx, subject); err != nil || !d.Allowed {
		t.Fatalf("first check failed: %v %v", d, err)
	}
	if d, _ := limiter.CheckAndRecord(ctx, subject); d.Allowed {
		t.Fatal("expected denial within window")
	}

	// The rolling hour passes and the actor gets budget back.
	limiter.now = func() time.Time { return base.Add(61 * time.Minute) }
	d, err := limiter.CheckAndRecord(ctx, subject)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Errorf("expected allowance after window expiry, got %s", d.Reason)
	}
}

func TestWindowLimiterPerRequestTotal(t *testing.T) {
	ctx := context.Background()
	limiter := NewWindowLimiter(store.NewMemKV(), Limits{ActorPerHour: 100, PerRequestTotal: 1, RepoPerDay: 100})

	base := time.Now()
	limiter.now = func() time.Time { return base }

	subject := Subject{Actor: "octocat", Repository: "octo/demo", RequestID: 3}
	if d, _ := limiter.CheckAndRecord(ctx, subject); !d.Allowed {
		t.Fatal("first check denied")
	}

	// The per-request budget never resets, no matter how long passes.
	limiter.now = func() time.Time { return base.Add(30 * 24 * time.Hour) }
	if d, _ := limiter.CheckAndRecord(ctx, subject); d.Allowed {
		t.Error("expected denial: per-request limit is total, not windowed")
	}

	// A different request on the same repo is unaffected.
	other := Subject{Actor: "octocat", Repository: "octo/demo", RequestID: 4}
	if d, _ := limiter.CheckAndRecord(ctx, other); !d.Allowed {
		t.Error("other request should be admitted")
	}
}

func TestWindowLimiterDenialRecordsNothing(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemKV()
	limiter := NewWindowLimiter(kv, Limits{ActorPerHour: 100, PerRequestTotal: 1, RepoPerDay: 100})

	subject := Subject{Actor: "octocat", Repository: "octo/demo", RequestID: 5}
	if d, _ := limiter.CheckAndRecord(ctx, subject); !d.Allowed {
		t.Fatal("first check denied")
	}
	entry, err := kv.Get(ctx, "admission/actor/octocat")
	if err != nil {
		t.Fatal(err)
	}
	versionAfterAllow := entry.Version

	if d, _ := limiter.CheckAndRecord(ctx, subject); d.Allowed {
		t.Fatal("expected denial")
	}
	entry, err = kv.Get(ctx, "admission/actor/octocat")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Version != versionAfterAllow {
		t.Error("denied attempt still consumed actor budget")
	}
}

func TestWindowLimiterConcurrentTriggersNeverOverAdmit(t *testing.T) {
	ctx := context.Background()
	limiter := NewWindowLimiter(store.NewMemKV(), Limits{ActorPerHour: 1, PerRequestTotal: 100, RepoPerDay: 100})

	const triggers = 10
	start := make(chan struct{})
	var wg sync.WaitGroup
	var allowed, denied atomic.Int64

	// Same actor, distinct repos and requests, so only the actor
	// dimension contends.
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			subject := Subject{Actor: "octocat", Repository: fmt.Sprintf("octo/repo-%d", i), RequestID: i}
			d, err := limiter.CheckAndRecord(ctx, subject)
			if err != nil {
				t.Errorf("trigger %d: %v", i, err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if got := allowed.Load(); got != 1 {
		t.Errorf("expected exactly 1 admission past an actor limit of 1, got %d", got)
	}
	if got := denied.Load(); got != triggers-1 {
		t.Errorf("expected %d denials, got %d", triggers-1, got)
	}
}
