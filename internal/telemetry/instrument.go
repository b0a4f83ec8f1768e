package telemetry

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrOperationAborted is recorded when a wrapped operation's goroutine exits
// without returning, as with runtime.Goexit or t.FailNow.
var ErrOperationAborted = errors.New("operation aborted before returning")

// Events emitted by the wrappers.
const (
	EventFunctionExecuted = "function_executed"
	EventFunctionError    = "function_error"
)

// Properties set by the wrappers.
const (
	PropFunctionName = "function_name"
	PropErrorKind    = "error_kind"
	PropErrorMessage = "error_message"
)

// Wrap instruments op. The returned function starts a span, runs op with
// the span's context and records the outcome: a function_executed event on
// success, or an exception plus a function_error event on failure. Results
// and errors are returned unchanged. A panic in op is recorded as a failure
// of kind "panic" and then re-raised; an op that exits its goroutine without
// returning is recorded as ErrOperationAborted.
func Wrap[T any](t Tracker, name string, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	if t == nil {
		return op
	}
	return func(ctx context.Context) (T, error) {
		inv := begin(ctx, t, name)
		defer inv.recoverPanic()
		result, err := op(inv.ctx)
		inv.finish(err)
		return result, err
	}
}

// Wrap1 instruments an operation taking one argument.
func Wrap1[A, T any](t Tracker, name string, op func(context.Context, A) (T, error)) func(context.Context, A) (T, error) {
	if t == nil {
		return op
	}
	return func(ctx context.Context, a A) (T, error) {
		inv := begin(ctx, t, name)
		defer inv.recoverPanic()
		result, err := op(inv.ctx, a)
		inv.finish(err)
		return result, err
	}
}

// Wrap2 instruments an operation taking two arguments.
func Wrap2[A, B, T any](t Tracker, name string, op func(context.Context, A, B) (T, error)) func(context.Context, A, B) (T, error) {
	if t == nil {
		return op
	}
	return func(ctx context.Context, a A, b B) (T, error) {
		inv := begin(ctx, t, name)
		defer inv.recoverPanic()
		result, err := op(inv.ctx, a, b)
		inv.finish(err)
		return result, err
	}
}

// WrapFunc instruments an operation that only returns an error.
func WrapFunc(t Tracker, name string, op func(context.Context) error) func(context.Context) error {
	if t == nil {
		return op
	}
	return func(ctx context.Context) error {
		inv := begin(ctx, t, name)
		defer inv.recoverPanic()
		err := op(inv.ctx)
		inv.finish(err)
		return err
	}
}

// invocation is the state of one wrapped call.
type invocation struct {
	t     Tracker
	name  string
	ctx   context.Context
	span  *SpanHandle
	start time.Time
	done  bool
}

func begin(ctx context.Context, t Tracker, name string) *invocation {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx, span := t.StartOperation(ctx, name)
	return &invocation{t: t, name: name, ctx: spanCtx, span: span, start: time.Now()}
}

// finish records the outcome. Records are emitted on a context detached
// from cancellation.
func (inv *invocation) finish(err error) {
	inv.done = true
	elapsed := time.Since(inv.start)
	measurements := map[string]float64{MeasureDuration: float64(elapsed) / float64(time.Millisecond)}
	ctx := context.WithoutCancel(inv.ctx)

	if err == nil {
		inv.t.TrackEvent(ctx, EventFunctionExecuted, map[string]string{
			PropFunctionName: inv.name,
			PropSuccess:      strconv.FormatBool(true),
		}, measurements)
		inv.t.EndOperation(inv.span, true, "")
		operationDuration.WithLabelValues(inv.name, "success").Observe(elapsed.Seconds())
		return
	}

	inv.t.TrackException(ctx, err, map[string]string{PropFunctionName: inv.name})
	inv.t.TrackEvent(ctx, EventFunctionError, map[string]string{
		PropFunctionName: inv.name,
		PropSuccess:      strconv.FormatBool(false),
		PropErrorKind:    ErrorKind(err),
		PropErrorMessage: err.Error(),
	}, measurements)
	inv.t.EndOperation(inv.span, false, err.Error())
	operationDuration.WithLabelValues(inv.name, "error").Observe(elapsed.Seconds())
}

// recoverPanic records an operation that did not return normally. A panic
// is recorded and re-raised; an exit through runtime.Goexit, where recover
// yields nil, is recorded as ErrOperationAborted.
func (inv *invocation) recoverPanic() {
	if inv.done {
		return
	}
	if r := recover(); r != nil {
		inv.finish(&PanicError{Value: r})
		panic(r)
	}
	inv.finish(ErrOperationAborted)
}
