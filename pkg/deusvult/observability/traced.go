package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Field is one span-worthy call argument.
type Field struct {
	Key   string
	Value any
}

// Arg declares a call argument to be recorded as a span attribute.
func Arg(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Args is the explicit attribute list of a traced call.
type Args []Field

// Attributes serializes every field. Fields whose value cannot be encoded
// are left out.
func (a Args) Attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(a))
	for _, f := range a {
		v, ok := SerializeArg(f.Value)
		if !ok {
			continue
		}
		attrs = append(attrs, attribute.KeyValue{Key: attribute.Key(f.Key), Value: v})
	}
	return attrs
}

// SerializeArg converts a call argument to an attribute value.
//
// Primitive scalars pass through unchanged. Slices, arrays and maps become a
// JSON string, and are dropped (ok == false) when JSON encoding fails.
// Structs and json.Marshaler values are encoded with their JSON form and
// errors with their message. Everything else is formatted with fmt.
func SerializeArg(value any) (attribute.Value, bool) {
	switch v := value.(type) {
	case nil:
		return attribute.StringValue("<nil>"), true
	case string:
		return attribute.StringValue(v), true
	case bool:
		return attribute.BoolValue(v), true
	case int:
		return attribute.IntValue(v), true
	case int8:
		return attribute.Int64Value(int64(v)), true
	case int16:
		return attribute.Int64Value(int64(v)), true
	case int32:
		return attribute.Int64Value(int64(v)), true
	case int64:
		return attribute.Int64Value(v), true
	case uint8:
		return attribute.Int64Value(int64(v)), true
	case uint16:
		return attribute.Int64Value(int64(v)), true
	case uint32:
		return attribute.Int64Value(int64(v)), true
	case uint:
		return uintValue(uint64(v)), true
	case uint64:
		return uintValue(v), true
	case float32:
		return attribute.Float64Value(float64(v)), true
	case float64:
		return attribute.Float64Value(v), true
	case json.Marshaler:
		return recordValue(value), true
	case error:
		return attribute.StringValue(v.Error()), true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		data, err := json.Marshal(value)
		if err != nil {
			return attribute.Value{}, false
		}
		return attribute.StringValue(string(data)), true
	case reflect.Struct:
		return recordValue(value), true
	case reflect.Pointer:
		if !rv.IsNil() && rv.Elem().Kind() == reflect.Struct {
			return recordValue(value), true
		}
	case reflect.String:
		return attribute.StringValue(rv.String()), true
	case reflect.Bool:
		return attribute.BoolValue(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return attribute.Int64Value(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintValue(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return attribute.Float64Value(rv.Float()), true
	}

	return attribute.StringValue(fmt.Sprint(value)), true
}

func uintValue(v uint64) attribute.Value {
	if v > math.MaxInt64 {
		return attribute.StringValue(strconv.FormatUint(v, 10))
	}
	return attribute.Int64Value(int64(v))
}

// recordValue encodes a structured value as JSON, falling back to its
// fmt form when the value has no JSON representation.
func recordValue(value any) attribute.Value {
	data, err := json.Marshal(value)
	if err != nil {
		return attribute.StringValue(fmt.Sprint(value))
	}
	return attribute.StringValue(string(data))
}

// PanicError carries a panic recovered from an asynchronous traced call.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func startCall(ctx context.Context, name string, args Args) (context.Context, trace.Span) {
	return tracer().Start(ctx, name,
		trace.WithAttributes(args.Attributes()...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// Trace runs fn inside a span named name carrying args as attributes.
//
// The span is opened before fn runs and closed after it returns, panics or
// observes cancellation. Its status is OK on success and ERROR otherwise.
// The error (or panic) from fn reaches the caller unchanged.
func Trace[T any](ctx context.Context, name string, args Args, fn func(context.Context) (T, error)) (result T, err error) {
	ctx, span := startCall(ctx, name, args)
	defer func() {
		if r := recover(); r != nil {
			EndSpan(span, &PanicError{Value: r})
			panic(r)
		}
		EndSpan(span, err)
	}()
	return fn(ctx)
}

// TraceErr is Trace for functions that only return an error.
func TraceErr(ctx context.Context, name string, args Args, fn func(context.Context) error) error {
	_, err := Trace(ctx, name, args, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Func0 wraps fn so that every call is traced under name.
func Func0[R any](name string, fn func(context.Context) (R, error)) func(context.Context) (R, error) {
	return func(ctx context.Context) (R, error) {
		return Trace(ctx, name, nil, fn)
	}
}

// Func1 wraps fn so that every call is traced under name, recording its
// argument as attribute p1.
func Func1[A, R any](name, p1 string, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, a A) (R, error) {
		return Trace(ctx, name, Args{Arg(p1, a)}, func(ctx context.Context) (R, error) {
			return fn(ctx, a)
		})
	}
}

// Func2 wraps a two-argument fn; see Func1.
func Func2[A, B, R any](name, p1, p2 string, fn func(context.Context, A, B) (R, error)) func(context.Context, A, B) (R, error) {
	return func(ctx context.Context, a A, b B) (R, error) {
		return Trace(ctx, name, Args{Arg(p1, a), Arg(p2, b)}, func(ctx context.Context) (R, error) {
			return fn(ctx, a, b)
		})
	}
}

// Func3 wraps a three-argument fn; see Func1.
func Func3[A, B, C, R any](name, p1, p2, p3 string, fn func(context.Context, A, B, C) (R, error)) func(context.Context, A, B, C) (R, error) {
	return func(ctx context.Context, a A, b B, c C) (R, error) {
		return Trace(ctx, name, Args{Arg(p1, a), Arg(p2, b), Arg(p3, c)}, func(ctx context.Context) (R, error) {
			return fn(ctx, a, b, c)
		})
	}
}

// Future is the pending result of an asynchronous traced call.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Async starts fn on its own goroutine inside a span. The span is opened
// before Async returns and closed when fn finishes, whether or not anyone
// awaits the result. A panic in fn is reported as a *PanicError.
func Async[T any](ctx context.Context, name string, args Args, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	ctx, span := startCall(ctx, name, args)

	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = &PanicError{Value: r}
			}
			EndSpan(span, f.err)
		}()
		f.value, f.err = fn(ctx)
	}()

	return f
}

// Done is closed once the call has finished and its span is closed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the call finishes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
