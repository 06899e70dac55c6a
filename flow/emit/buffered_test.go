package emit

import (
	"sync"
	"testing"
)

func TestBufferedEmitterHistory(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "r1", Msg: "run_start"})
	b.Emit(Event{RunID: "r1", Step: 1, NodeID: "a", Msg: "node_start"})
	b.Emit(Event{RunID: "r2", Msg: "run_start"})

	if got := len(b.History("r1")); got != 2 {
		t.Errorf("expected 2 events for r1, got %d", got)
	}
	if got := len(b.NodeEvents("r1", "node_start")); got != 1 {
		t.Errorf("expected 1 node_start for r1, got %d", got)
	}

	b.Clear("r1")
	if got := len(b.History("r1")); got != 0 {
		t.Errorf("expected r1 cleared, got %d events", got)
	}
	if got := len(b.History("r2")); got != 1 {
		t.Errorf("expected r2 untouched, got %d events", got)
	}
}

func TestBufferedEmitterConcurrent(t *testing.T) {
	b := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Emit(Event{RunID: "shared", Msg: "node_end"})
			}
		}()
	}
	wg.Wait()

	if got := len(b.History("shared")); got != 1000 {
		t.Errorf("expected 1000 events, got %d", got)
	}
}
