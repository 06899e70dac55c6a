package emit

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelEmitterSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	emitter := NewOTelEmitter(tp.Tracer("test"))

	emitter.Emit(Event{
		RunID:    "run-1",
		Workflow: "review",
		Step:     2,
		NodeID:   "analyze",
		Msg:      "node_end",
		Meta:     map[string]any{"duration_ms": int64(12)},
	})
	emitter.Emit(Event{
		RunID:    "run-1",
		Workflow: "review",
		Step:     3,
		NodeID:   "report",
		Msg:      "node_error",
		Meta:     map[string]any{"error": "post failed"},
	})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	first := spans[0]
	if first.Name() != "node_end" {
		t.Errorf("expected span name node_end, got %q", first.Name())
	}
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range first.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["repoauditor.run_id"].AsString(); got != "run-1" {
		t.Errorf("unexpected run id attribute %q", got)
	}
	if got := attrs["repoauditor.node_id"].AsString(); got != "analyze" {
		t.Errorf("unexpected node id attribute %q", got)
	}
	if got := attrs["repoauditor.duration_ms"].AsInt64(); got != 12 {
		t.Errorf("unexpected duration attribute %d", got)
	}
	if first.Status().Code == codes.Error {
		t.Error("successful event marked as error")
	}

	second := spans[1]
	if second.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", second.Status().Code)
	}
}
