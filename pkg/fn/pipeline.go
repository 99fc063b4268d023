package fn

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/WessleyAI/docustream/pkg/fn"

// Stage transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then runs first and feeds its value to second, short-circuiting on error.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		r := first(ctx, a)
		if r.IsErr() {
			return Err[C](r.Cause())
		}
		return second(ctx, r.val)
	}
}

// MapStage lifts a pure function into a Stage.
func MapStage[In, Out any](f func(In) Out) Stage[In, Out] {
	return func(_ context.Context, in In) Result[Out] {
		return Ok(f(in))
	}
}

// Traced wraps a stage in an OTel span named name and records failures on it.
func Traced[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		r := stage(ctx, in)
		if r.IsErr() {
			span.RecordError(r.Cause())
			span.SetStatus(codes.Error, r.Cause().Error())
		}
		return r
	}
}

// Logged wraps a stage with stage.enter / stage.exit log lines.
func Logged[In, Out any](name string, log *slog.Logger, stage Stage[In, Out]) Stage[In, Out] {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, in In) Result[Out] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		r := stage(ctx, in)
		if r.IsErr() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start), "err", r.Cause())
		} else {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}
		return r
	}
}

// Named applies Logged and Traced under the same name.
func Named[In, Out any](name string, log *slog.Logger, stage Stage[In, Out]) Stage[In, Out] {
	return Traced(name, Logged(name, log, stage))
}
