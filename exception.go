package quickjs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind selects the constructor of a thrown error.
type ErrorKind int

const (
	PlainError ErrorKind = iota // Error
	EvalError
	RangeError
	ReferenceError
	SyntaxError
	TypeError
	URIError
	InternalError
	AggregateError

	nativeErrorCount = int(AggregateError)
)

var errorKindNames = [...]string{
	PlainError:     "Error",
	EvalError:      "EvalError",
	RangeError:     "RangeError",
	ReferenceError: "ReferenceError",
	SyntaxError:    "SyntaxError",
	TypeError:      "TypeError",
	URIError:       "URIError",
	InternalError:  "InternalError",
	AggregateError: "AggregateError",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(errorKindNames) {
		return "Error"
	}
	return errorKindNames[k]
}

// ErrorKindOf maps an error name to its kind; unknown names map to PlainError.
func ErrorKindOf(name string) ErrorKind {
	for k, n := range errorKindNames {
		if n == name {
			return ErrorKind(k)
		}
	}
	return PlainError
}

const outOfMemoryMessage = "out of memory"

// =============================================================================
// THROWING
// =============================================================================

// throw makes v the pending exception and consumes it. A previous pending exception is
// released.
func (ctx *Context) throw(v JSValue) JSValue {
	old := ctx.exception
	ctx.exception = v
	ctx.uncatchable = false
	ctx.hostErr = nil
	ctx.rt.free(old)
	return Exception
}

// newErrorObject creates an error of the given kind with a message and the current script
// backtrace.
func (ctx *Context) newErrorObject(kind ErrorKind, msg string) JSValue {
	proto := ctx.errorProto
	if kind != PlainError {
		proto = ctx.nativeErrorProtos[kind-1]
	}
	v := ctx.newObjectProtoClass(proto, ClassError)
	if v.IsException() {
		return v
	}
	flags := PropertyWritable | PropertyConfigurable
	if ctx.defineValue(v, atomMessage, ctx.newStringValue(msg), flags) < 0 ||
		ctx.defineValue(v, atomStack, ctx.newStringValue(ctx.backtrace()), flags) < 0 {
		ctx.rt.free(v)
		return Exception
	}
	return v
}

func (ctx *Context) backtrace() string {
	if ctx.evaluator == nil {
		return ""
	}
	return ctx.evaluator.Backtrace()
}

// throwError throws a new error object of the given kind.
func (ctx *Context) throwError(kind ErrorKind, format string, args ...any) JSValue {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	v := ctx.newErrorObject(kind, msg)
	if v.IsException() {
		return ctx.throwOutOfMemory()
	}
	return ctx.throw(v)
}

// throwOutOfMemory throws the error object preallocated for the context, so it never needs
// to allocate.
func (ctx *Context) throwOutOfMemory() JSValue {
	if ctx.oomError.tag != TagObject {
		return ctx.throw(Null)
	}
	return ctx.throw(ctx.rt.dup(ctx.oomError))
}

// throwHostError converts a Go error raised by a host callback into a pending exception and
// stashes the Go error so that Exception returns it.
func (ctx *Context) throwHostError(err error) JSValue {
	var (
		res   JSValue
		jsErr *Error
	)
	host := errors.WithStack(err)
	switch {
	case errors.Is(err, ErrOutOfMemory):
		res = ctx.throwOutOfMemory()
	case errors.As(err, &jsErr):
		res = ctx.throwError(ErrorKindOf(jsErr.Name), "%s", jsErr.Message)
		ctx.uncatchable = jsErr.Uncatchable
		host = jsErr.Host
	default:
		res = ctx.throwError(InternalError, "%s", err.Error())
	}
	ctx.hostErr = host
	return res
}

// throwUncatchable throws an InternalError that scripts cannot catch.
func (ctx *Context) throwUncatchable(msg string) JSValue {
	res := ctx.throwError(InternalError, "%s", msg)
	ctx.uncatchable = true
	return res
}

// Throw makes v the pending exception. v is consumed. It returns the Exception value, so a host
// function can simply return it.
func (ctx *Context) Throw(v Value) Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.throw(ctx.raw(v)))
}

// ThrowError converts a Go error into a pending InternalError (or the kind carried by an
// *Error) and keeps err available through Exception.
func (ctx *Context) ThrowError(err error) Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.throwHostError(err))
}

// ThrowKind throws a new error of the given kind.
func (ctx *Context) ThrowKind(kind ErrorKind, format string, args ...any) Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.throwError(kind, format, args...))
}

// ThrowSyntaxError throws a SyntaxError.
func (ctx *Context) ThrowSyntaxError(format string, args ...any) Value {
	return ctx.ThrowKind(SyntaxError, format, args...)
}

// ThrowTypeError throws a TypeError.
func (ctx *Context) ThrowTypeError(format string, args ...any) Value {
	return ctx.ThrowKind(TypeError, format, args...)
}

// ThrowReferenceError throws a ReferenceError.
func (ctx *Context) ThrowReferenceError(format string, args ...any) Value {
	return ctx.ThrowKind(ReferenceError, format, args...)
}

// ThrowRangeError throws a RangeError.
func (ctx *Context) ThrowRangeError(format string, args ...any) Value {
	return ctx.ThrowKind(RangeError, format, args...)
}

// ThrowInternalError throws an InternalError.
func (ctx *Context) ThrowInternalError(format string, args ...any) Value {
	return ctx.ThrowKind(InternalError, format, args...)
}

// ThrowOutOfMemory throws the out of memory error. It never allocates.
func (ctx *Context) ThrowOutOfMemory() Value {
	ctx.rt.mustOwn()
	return ctx.wrap(ctx.throwOutOfMemory())
}

// =============================================================================
// PENDING EXCEPTION
// =============================================================================

func (ctx *Context) hasPending() bool {
	return ctx.exception.tag != TagUninitialized
}

// takeException returns the pending exception and resets the context to the clean state.
func (ctx *Context) takeException() JSValue {
	v := ctx.exception
	ctx.exception = Uninitialized
	if v.tag == TagUninitialized {
		return Null
	}
	return v
}

// suspendedException is a pending exception detached from its context.
type suspendedException struct {
	value       JSValue
	hostErr     error
	uncatchable bool
}

// suspendException detaches the pending exception and leaves the context clean.
func (ctx *Context) suspendException() suspendedException {
	s := suspendedException{value: ctx.exception, hostErr: ctx.hostErr, uncatchable: ctx.uncatchable}
	ctx.exception, ctx.hostErr, ctx.uncatchable = Uninitialized, nil, false
	return s
}

// resumeException reinstates s. An exception raised since the suspension is released, unless
// nothing was suspended, in which case the newer exception stays.
func (ctx *Context) resumeException(s suspendedException) {
	if s.value.tag == TagUninitialized {
		return
	}
	ctx.rt.free(ctx.exception)
	ctx.exception, ctx.hostErr, ctx.uncatchable = s.value, s.hostErr, s.uncatchable
}

// HasException reports whether an exception is pending.
func (ctx *Context) HasException() bool {
	ctx.rt.mustOwn()
	return ctx.hasPending()
}

// GetException returns the pending exception and clears it. It returns null when no exception
// is pending. The stashed host error, if any, is discarded.
func (ctx *Context) GetException() Value {
	ctx.rt.mustOwn()
	ctx.hostErr = nil
	ctx.uncatchable = false
	return ctx.wrap(ctx.takeException())
}

// Exception returns the pending exception as a Go error and clears it, or nil when no
// exception is pending. When the exception was raised by a failing host callback, the
// returned *Error wraps the original Go error.
func (ctx *Context) Exception() error {
	ctx.rt.mustOwn()
	if !ctx.hasPending() {
		if ctx.hostErr != nil {
			err := ctx.hostErr
			ctx.hostErr = nil
			return err
		}
		return nil
	}
	host, uncatchable := ctx.hostErr, ctx.uncatchable
	ctx.hostErr, ctx.uncatchable = nil, false
	v := ctx.takeException()
	defer ctx.rt.free(v)

	e := ctx.errorFromValue(v)
	e.Host = host
	e.Uncatchable = uncatchable
	if host != nil && e.Message == "" {
		e.Message = host.Error()
	}
	return e
}

// isError reports whether v is an Error object.
func (ctx *Context) isError(v JSValue) bool {
	return v.tag == TagObject && ctx.rt.objectOf(v).classID == ClassError
}

// errorFromValue reads an exception value. Exceptions raised while reading it are discarded.
func (ctx *Context) errorFromValue(v JSValue) *Error {
	saved := ctx.exception
	ctx.exception = Uninitialized
	defer func() {
		ctx.rt.free(ctx.exception)
		ctx.exception = saved
	}()

	if !ctx.isError(v) {
		s, ok := ctx.toGoString(v)
		if !ok {
			s = "[exception]"
		}
		return &Error{Message: s}
	}
	read := func(name JSAtom) string {
		p := ctx.getProperty(v, name, v)
		defer ctx.rt.free(p)
		if p.IsUndefined() || p.IsException() {
			return ""
		}
		s, _ := ctx.toGoString(p)
		return s
	}
	e := &Error{
		Name:    read(atomName),
		Message: read(atomMessage),
		Cause:   read(atomCause),
		Stack:   read(atomStack),
	}
	e.FileName, e.LineNumber = firstFrame(e.Stack)
	if js, ok := ctx.jsonStringify(v); ok {
		e.JSONString = js
	}
	return e
}

// =============================================================================
// HOST HOOK GUARD
// =============================================================================

type hookStatus int

const (
	hookDone hookStatus = iota
	hookDefault
	hookFailed
)

// runHook runs a host hook. Returned errors and panics become pending exceptions; an error
// returned while the hook already threw keeps the thrown exception. ErrNotSupported selects the
// default behaviour. An exception pending before the hook is set aside while it runs and comes
// back unless the hook fails.
func (ctx *Context) runHook(fn func() error) (status hookStatus) {
	saved := ctx.suspendException()
	defer func() {
		if p := recover(); p != nil {
			ctx.throwHostError(panicError(p))
			status = hookFailed
		}
		if status == hookFailed {
			ctx.rt.free(saved.value)
			return
		}
		ctx.resumeException(saved)
	}()
	err := fn()
	switch {
	case err == nil:
		if ctx.hasPending() {
			return hookFailed
		}
		return hookDone
	case errors.Is(err, ErrNotSupported) && !ctx.hasPending():
		return hookDefault
	case ctx.hasPending():
		return hookFailed
	}
	ctx.throwHostError(err)
	return hookFailed
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return errors.Wrap(err, "panic")
	}
	return errors.Errorf("panic: %v", p)
}

func trimErrorPrefix(msg string) (string, string) {
	name, rest, ok := strings.Cut(msg, ": ")
	if !ok || strings.ContainsAny(name, " \n") {
		return "", msg
	}
	return name, rest
}
