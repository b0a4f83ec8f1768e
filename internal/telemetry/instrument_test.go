package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

func TestWrap2_Success(t *testing.T) {
	tm := NewTestManager()
	add := Wrap2(tm, "add", func(_ context.Context, x, y int) (int, error) {
		return x + y, nil
	})

	got, err := add(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	executed := tm.Sink.Find(KindEvent, EventFunctionExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, "add", executed[0].Properties[PropFunctionName])
	assert.Equal(t, "true", executed[0].Properties[PropSuccess])
	assert.GreaterOrEqual(t, executed[0].Measurements[MeasureDuration], 0.0)
	assert.Empty(t, tm.Sink.Find(KindEvent, EventFunctionError))
	assert.Empty(t, tm.Sink.OfKind(KindException))

	spans := tm.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, "add", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestWrap_Failure(t *testing.T) {
	tm := NewTestManager()
	boom := errors.New("boom")
	failing := Wrap(tm, "explode", func(context.Context) (string, error) {
		return "", boom
	})

	_, err := failing(context.Background())
	require.Error(t, err)
	assert.Same(t, boom, err)

	exceptions := tm.Sink.OfKind(KindException)
	require.Len(t, exceptions, 1)
	assert.Contains(t, exceptions[0].Properties[PropMessage], "boom")
	assert.Equal(t, "explode", exceptions[0].Properties[PropFunctionName])

	failed := tm.Sink.Find(KindEvent, EventFunctionError)
	require.Len(t, failed, 1)
	assert.Equal(t, "false", failed[0].Properties[PropSuccess])
	assert.Equal(t, "*errors.errorString", failed[0].Properties[PropErrorKind])
	assert.Equal(t, "boom", failed[0].Properties[PropErrorMessage])
	assert.Contains(t, failed[0].Measurements, MeasureDuration)
	assert.Empty(t, tm.Sink.Find(KindEvent, EventFunctionExecuted))

	spans := tm.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	tm.AssertSpanAttribute(t, "explode", AttrErrorMessage, "boom")
}

func TestWrap_ReturnsWrappedErrorUnchanged(t *testing.T) {
	tm := NewTestManager()
	inner := quotaError{}
	op := WrapFunc(tm, "quota", func(context.Context) error {
		return fmt.Errorf("calling backend: %w", inner)
	})

	err := op(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)

	failed := tm.Sink.Find(KindEvent, EventFunctionError)
	require.Len(t, failed, 1)
	assert.Equal(t, "QuotaExceeded", failed[0].Properties[PropErrorKind])
}

func TestWrap1_PassesArgumentsAndSpanContext(t *testing.T) {
	tm := NewTestManager()
	var sawSpan trace.SpanContext
	var sawArg string
	op := Wrap1(tm, "echo", func(ctx context.Context, s string) (string, error) {
		sawSpan = trace.SpanContextFromContext(ctx)
		sawArg = s
		return s, nil
	})

	got, err := op(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, "hello", sawArg)
	assert.True(t, sawSpan.IsValid())
	assert.Equal(t, tm.Spans()[0].SpanContext().SpanID(), sawSpan.SpanID())
}

func TestWrap_PanicRecordedAndRepanicked(t *testing.T) {
	tm := NewTestManager()
	op := WrapFunc(tm, "panics", func(context.Context) error {
		panic("kaboom")
	})

	assert.PanicsWithValue(t, "kaboom", func() { _ = op(context.Background()) })

	failed := tm.Sink.Find(KindEvent, EventFunctionError)
	require.Len(t, failed, 1)
	assert.Equal(t, "panic", failed[0].Properties[PropErrorKind])
	assert.Equal(t, "panic: kaboom", failed[0].Properties[PropErrorMessage])
	require.Len(t, tm.Sink.OfKind(KindException), 1)
	require.Len(t, tm.Spans(), 1)
	assert.Equal(t, codes.Error, tm.Spans()[0].Status().Code)
}

func TestWrap_GoexitRecordedAsAborted(t *testing.T) {
	tm := NewTestManager()
	op := WrapFunc(tm, "exits", func(context.Context) error {
		runtime.Goexit()
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = op(context.Background())
	}()
	<-done

	failed := tm.Sink.Find(KindEvent, EventFunctionError)
	require.Len(t, failed, 1)
	assert.Equal(t, ErrOperationAborted.Error(), failed[0].Properties[PropErrorMessage])
	assert.Len(t, tm.Sink.OfKind(KindException), 1)
	assert.Empty(t, tm.Sink.Find(KindEvent, EventFunctionExecuted))
	require.Len(t, tm.Spans(), 1)
	assert.Equal(t, codes.Error, tm.Spans()[0].Status().Code)
}

func TestWrap_CancelledContextStillRecordsFailure(t *testing.T) {
	tm := NewTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	op := WrapFunc(tm, "cancelled", func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	err := op(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, tm.Sink.Find(KindEvent, EventFunctionError), 1)
	assert.Len(t, tm.Sink.OfKind(KindException), 1)
}

func TestWrap_DegradedModeStillWorks(t *testing.T) {
	tm := NewDegradedTestManager()
	op := Wrap2(tm, "add", func(_ context.Context, x, y int) (int, error) { return x + y, nil })

	got, err := op(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
	tm.Logs.AssertLogged(t, zapcore.InfoLevel, "event: function_executed")
}

func TestWrap_NilTrackerReturnsOp(t *testing.T) {
	op := Wrap(nil, "noop", func(context.Context) (int, error) { return 7, nil })
	got, err := op(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
