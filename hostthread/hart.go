// Package hostthread implements the native-hosted coroutine hart: a
// hardware thread whose program is an ordinary Go function, trapped
// through a small memory-access API instead of being interpreted
// instruction by instruction.
//
// Go has no stackful coroutines, so each hart is realized as one
// goroutine. The goroutine *is* the coroutine's stack; an unbuffered
// channel handoff at every suspension point *is* the yield/resume
// transfer of control. The scheduler never sends on the resume channel
// except when it intends to run the hart, and the hart goroutine never
// sends on the yield channel except when it suspends — so control is
// held by exactly one side at a time, mirroring the original's
// single-threaded coroutine contract.
package hostthread

import (
	"fmt"

	"github.com/sarchlab/pando/hoststate"
)

// MemAPI is the trapped memory-access surface a Task body calls into. Each
// method blocks the calling goroutine until the scheduler resumes it with
// a result, exactly as the original's DrvAPI free functions block on
// DrvAPIThread::yield().
type MemAPI interface {
	Read(address uint64, numBytes int) []byte
	Write(address uint64, value []byte)
	Atomic(op hoststate.AtomicOp, address uint64, operand, casExpect []byte) []byte
	Nop(cycles int)
	Flush(address uint64)
	Inv(address uint64)
	ToNative(address uint64, numBytes int) []byte

	// Exit ends the task immediately, reporting code as its exit status.
	// It never returns: control passes straight back to the scheduler as
	// a Terminate state.
	Exit(code int)
}

// Task is the body of a coroutine hart: an ordinary Go function that
// calls into a MemAPI whenever it needs to touch memory.
type Task func(api MemAPI)

// Hart drives one Task as a goroutine, handing control back and forth
// with the owning scheduler through Resume/yield channels.
type Hart struct {
	yield  chan hoststate.State
	resume chan []byte
	done   chan struct{}

	last     hoststate.State
	started  bool
	finished bool
}

// NewHart creates a Hart bound to task. The goroutine is started lazily,
// on the first call to Resume, so construction never races the caller.
func NewHart(task Task) *Hart {
	h := &Hart{
		yield:  make(chan hoststate.State),
		resume: make(chan []byte),
		done:   make(chan struct{}),
	}
	h.last = hoststate.MakeIdle()

	go h.run(task)

	return h
}

func (h *Hart) run(task Task) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if exit, ok := r.(exitSignal); ok {
			h.yield <- hoststate.MakeTerminate(exit.code)
			return
		}
		h.yield <- hoststate.MakeTerminate(1)
	}()

	task(&trap{h: h})
	h.yield <- hoststate.MakeTerminate(0)
}

// exitSignal unwinds the task goroutine via panic/recover when the task
// calls MemAPI.Exit, carrying the guest's real exit code past any
// deferred cleanup in the task itself.
type exitSignal struct{ code int }

// Resume hands control to the hart goroutine, delivering result as the
// outcome of whatever it last suspended on (ignored the very first call,
// and for suspension kinds that carry no result), and blocks until the
// hart either yields a new state or terminates.
//
// Resume must not be called again after a State with CanResume() == false
// has been returned.
func (h *Hart) Resume(result []byte) hoststate.State {
	if h.finished {
		panic("hostthread: Resume called after hart terminated")
	}

	if h.started {
		h.resume <- result
	}
	h.started = true

	state := <-h.yield
	h.last = state
	if !state.CanResume() {
		h.finished = true
	}

	return state
}

// Last returns the most recently yielded state without resuming the hart.
func (h *Hart) Last() hoststate.State { return h.last }

// Finished reports whether the hart has terminated.
func (h *Hart) Finished() bool { return h.finished }

// trap implements MemAPI by yielding a hoststate.State and blocking for
// the scheduler's Resume call.
type trap struct{ h *Hart }

func (t *trap) suspend(s hoststate.State) []byte {
	t.h.yield <- s
	return <-t.h.resume
}

func (t *trap) Read(address uint64, numBytes int) []byte {
	return t.suspend(hoststate.MakeRead(address, numBytes))
}

func (t *trap) Write(address uint64, value []byte) {
	t.suspend(hoststate.MakeWrite(address, value))
}

func (t *trap) Atomic(op hoststate.AtomicOp, address uint64, operand, casExpect []byte) []byte {
	return t.suspend(hoststate.MakeAtomic(op, address, operand, casExpect))
}

func (t *trap) Nop(cycles int) {
	t.suspend(hoststate.MakeNop(cycles))
}

func (t *trap) Flush(address uint64) {
	t.suspend(hoststate.MakeFlush(address))
}

func (t *trap) Inv(address uint64) {
	t.suspend(hoststate.MakeInv(address))
}

func (t *trap) ToNative(address uint64, numBytes int) []byte {
	return t.suspend(hoststate.MakeToNative(address, numBytes))
}

func (t *trap) Exit(code int) {
	panic(exitSignal{code: code})
}

// String renders the hart's last-known state, for tracing.
func (h *Hart) String() string {
	return fmt.Sprintf("Hart{%s}", h.last)
}
