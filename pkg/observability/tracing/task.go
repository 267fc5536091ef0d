package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dispatchio/dispatch/pkg/dispatch"
)

// tracedTask wraps a Task so every execution is recorded as a span.
type tracedTask struct {
	tracer trace.Tracer
	task   dispatch.Task
}

// WrapTask decorates a task with span recording. A nil tracer uses the
// global provider.
func WrapTask(tracer trace.Tracer, task dispatch.Task) dispatch.Task {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &tracedTask{tracer: tracer, task: task}
}

func (t *tracedTask) Execute(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, t.task.Name(),
		trace.WithAttributes(attribute.String("dispatch.task", t.task.Name())),
	)
	defer span.End()

	err := t.task.Execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *tracedTask) Name() string {
	return t.task.Name()
}
