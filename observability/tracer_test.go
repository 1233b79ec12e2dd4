package observability

import (
	"context"
	"errors"
	"testing"

	autohands "github.com/autohands/runloop"

	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracerStartAndSpanLifecycle(t *testing.T) {
	tracer := NewTracer(noop.NewTracerProvider().Tracer("test"))

	ctx, span := tracer.Start(context.Background(), "op",
		autohands.StringAttr("key", "value"),
		autohands.IntAttr("n", 1),
	)
	if ctx == nil {
		t.Fatal("expected a non-nil context")
	}
	if span == nil {
		t.Fatal("expected a non-nil span")
	}

	span.SetAttr(autohands.StringAttr("extra", "attr"))
	span.Event("checkpoint", autohands.StringAttr("stage", "middle"))
	span.Error(errors.New("boom"))
	span.End()
}

func TestToOTELAttrTypes(t *testing.T) {
	cases := []autohands.SpanAttr{
		{Key: "s", Value: "str"},
		{Key: "i", Value: 1},
		{Key: "i64", Value: int64(2)},
		{Key: "f", Value: 3.5},
		{Key: "b", Value: true},
		{Key: "other", Value: struct{ X int }{X: 1}},
	}
	for _, c := range cases {
		attr := toOTELAttr(c)
		if string(attr.Key) != c.Key {
			t.Errorf("expected key %q, got %q", c.Key, attr.Key)
		}
	}
}
