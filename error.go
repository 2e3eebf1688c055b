package quickjs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is returned by an optional hook to select the default behaviour.
	ErrNotSupported = errors.New("quickjs: operation not supported")
	// ErrTypeMismatch is returned by narrow conversions on a value of another tag.
	ErrTypeMismatch = errors.New("quickjs: type mismatch")
	// ErrCrossThread is raised when a runtime is used from a goroutine other than its owner.
	ErrCrossThread = errors.New("quickjs: runtime accessed from a foreign goroutine")
	// ErrCrossRuntime is raised when a value is used with a context of another runtime.
	ErrCrossRuntime = errors.New("quickjs: value belongs to another runtime")
	// ErrClassRegistered is returned when a class id is registered twice on one runtime.
	ErrClassRegistered = errors.New("quickjs: class already registered")
	// ErrClassCapacity is returned for class ids outside the class table.
	ErrClassCapacity = errors.New("quickjs: class id out of range")
	// ErrOutOfMemory is returned by the allocator when the memory limit is exceeded.
	ErrOutOfMemory = errors.New("quickjs: out of memory")
	// ErrUseAfterFree is raised when a released heap value is used.
	ErrUseAfterFree = errors.New("quickjs: use of a freed value")
	// ErrInterrupted is the cause of errors raised by the interrupt handler.
	ErrInterrupted = errors.New("interrupted")
	// ErrRuntimeClosed is returned by operations on a closed runtime or context.
	ErrRuntimeClosed = errors.New("quickjs: runtime closed")
)

// Error represents a JavaScript error with detailed information.
type Error struct {
	Name       string // Error name (e.g., "TypeError", "ReferenceError")
	Message    string // Error message
	Cause      string // Error cause
	Stack      string // Stack trace
	JSONString string // Serialized JSON string
	FileName   string // File of the first stack frame, if any
	LineNumber int    // Line of the first stack frame, 0 if unknown

	// Uncatchable is set for errors that scripts cannot catch, such as interrupts.
	Uncatchable bool
	// Host is the Go error raised by a host callback that caused this exception.
	Host error
}

// Error implements the error interface.
func (err *Error) Error() string {
	msg := err.Message
	if err.Name != "" {
		msg = fmt.Sprintf("%s: %s", err.Name, err.Message)
	}
	if err.Cause != "" {
		return fmt.Sprintf("%s (cause: %s)", msg, err.Cause)
	}
	return msg
}

// Unwrap returns the host error, so errors.Is and errors.As see through JavaScript exceptions
// raised by Go callbacks.
func (err *Error) Unwrap() error {
	return err.Host
}
