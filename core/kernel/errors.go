package kernel

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"ledgerengine/core/types"
)

var (
	ErrOwnership                = errors.New("kernel: ownership violation")
	ErrSubstateLocked           = errors.New("kernel: substate locked")
	ErrMaxCallDepthLimitReached = errors.New("kernel: max call depth limit reached")
	ErrCannotPersistPinnedNode  = errors.New("kernel: cannot persist pinned node")
	ErrNodeNotFound             = errors.New("kernel: node not found")
	ErrNodeNotVisible           = errors.New("kernel: node not visible")
	ErrLockNotFound             = errors.New("kernel: lock not found")
	ErrReadOnlyLock             = errors.New("kernel: write through read lock")
	ErrNodeOrphaned             = errors.New("kernel: node orphaned")
	ErrOuterObjectNotFound      = errors.New("kernel: outer object not found")
	ErrAddressNotAllocated      = errors.New("kernel: address not allocated")
	ErrInvalidInvocation        = errors.New("kernel: invalid invocation")
	ErrNodeExists               = errors.New("kernel: node already exists")
)

// KernelError decorates a kernel sentinel with the node involved.
type KernelError struct {
	Kind   error
	Node   types.NodeId
	Detail string
}

func (e *KernelError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if !e.Node.IsZero() {
		b.WriteString(" (")
		b.WriteString(e.Node.EntityType().String())
		b.WriteString(" ")
		b.WriteString(e.Node.String())
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *KernelError) Unwrap() error { return e.Kind }

func nodeError(kind error, node types.NodeId, format string, args ...any) error {
	return &KernelError{Kind: kind, Node: node, Detail: fmt.Sprintf(format, args...)}
}

// PanicError is a failure raised by invoked code and caught at the invocation
// boundary.
type PanicError struct {
	Message  string
	Location string
}

func (e *PanicError) Error() string {
	if e.Location == "" {
		return "panic: " + e.Message
	}
	return fmt.Sprintf("panic at %s: %s", e.Location, e.Message)
}

func newPanicError(recovered any) *PanicError {
	var msg string
	switch v := recovered.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		msg = fmt.Sprint(v)
	}
	return &PanicError{Message: msg, Location: panicLocation()}
}

// panicLocation returns file:line of the first non-runtime frame below the
// panic call. It must be called from the deferred recover function.
func panicLocation() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	seenPanic := false
	for {
		frame, more := frames.Next()
		if seenPanic && !strings.HasPrefix(frame.Function, "runtime.") {
			return fmt.Sprintf("%s:%d", frame.File, frame.Line)
		}
		if frame.Function == "runtime.gopanic" {
			seenPanic = true
		}
		if !more {
			return ""
		}
	}
}
