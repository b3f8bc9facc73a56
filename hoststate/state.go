// Package hoststate defines the closed set of states a hardware thread
// can suspend in, shared by both the coroutine-hart and RISC-V-hart
// hosting modes.
//
// The original models this as a class hierarchy reached through virtual
// dispatch (DrvAPIThreadState and its subclasses). Go has no RTTI-free
// equivalent for that, so this package uses a single exported Kind tag
// plus one payload field per variant — the closed-sum-type idiom used
// throughout the teacher's message/port types.
package hoststate

import "fmt"

// Kind tags which variant a State holds.
type Kind int

const (
	// Idle means the hart has nothing to do this cycle but has not
	// terminated.
	Idle Kind = iota
	// Nop means the hart is waiting out a fixed number of cycles.
	Nop
	// Read means the hart is waiting on a memory read to complete.
	Read
	// Write means the hart is waiting on a memory write to complete.
	Write
	// Atomic means the hart is waiting on an atomic read-modify-write to
	// complete.
	Atomic
	// Flush means the hart is waiting on a cache/scratchpad flush.
	Flush
	// Inv means the hart is waiting on a cache line invalidation.
	Inv
	// ToNative means the hart has requested a direct (non-timed) memory
	// access and is waiting on its completion.
	ToNative
	// Terminate means the hart has exited and will never resume.
	Terminate
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "Idle"
	case Nop:
		return "Nop"
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Atomic:
		return "Atomic"
	case Flush:
		return "Flush"
	case Inv:
		return "Inv"
	case ToNative:
		return "ToNative"
	case Terminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// AtomicOp selects the read-modify-write operation an Atomic state
// performs. CAS is included alongside SWAP/ADD — see DESIGN.md's Open
// Question resolution.
type AtomicOp int

const (
	AtomicSwap AtomicOp = iota
	AtomicAdd
	AtomicCAS
)

func (op AtomicOp) String() string {
	switch op {
	case AtomicSwap:
		return "SWAP"
	case AtomicAdd:
		return "ADD"
	case AtomicCAS:
		return "CAS"
	default:
		return "UNKNOWN"
	}
}

// State is the suspended condition of one hardware thread. Exactly one
// of the variant-specific fields is meaningful, selected by Kind.
type State struct {
	Kind Kind

	// Nop
	Cycles int

	// Read, Write, Atomic, Flush, Inv, ToNative
	Address  uint64
	NumBytes int

	// Write, Atomic: the bytes to write, or the operand for the RMW.
	Value []byte

	// Atomic
	Op AtomicOp
	// CASExpect holds the comparison value for AtomicCAS; the swap
	// succeeds only if the memory word currently equals CASExpect.
	CASExpect []byte

	// Result is a slot for the response bytes of a Read, Atomic, or
	// ToNative read. The scheduler does not fill it in: it hands those
	// bytes to the hart directly through hostthread.Hart.Resume.
	Result []byte

	// ExitCode is set when Kind == Terminate.
	ExitCode int
}

// CanResume reports whether the hart that produced this state will ever
// run again. Terminate is the only state a hart cannot resume from.
func (s State) CanResume() bool {
	return s.Kind != Terminate
}

func (s State) String() string {
	switch s.Kind {
	case Nop:
		return fmt.Sprintf("Nop(%d)", s.Cycles)
	case Read:
		return fmt.Sprintf("Read(addr=%#x,n=%d)", s.Address, s.NumBytes)
	case Write:
		return fmt.Sprintf("Write(addr=%#x,n=%d)", s.Address, s.NumBytes)
	case Atomic:
		return fmt.Sprintf("Atomic(%s,addr=%#x,n=%d)", s.Op, s.Address, s.NumBytes)
	case Flush:
		return fmt.Sprintf("Flush(addr=%#x)", s.Address)
	case Inv:
		return fmt.Sprintf("Inv(addr=%#x)", s.Address)
	case ToNative:
		return fmt.Sprintf("ToNative(addr=%#x,n=%d)", s.Address, s.NumBytes)
	case Terminate:
		return fmt.Sprintf("Terminate(%d)", s.ExitCode)
	default:
		return s.Kind.String()
	}
}

// MakeIdle builds an Idle state.
func MakeIdle() State { return State{Kind: Idle} }

// MakeNop builds a Nop state that completes after the given number of
// cycles.
func MakeNop(cycles int) State { return State{Kind: Nop, Cycles: cycles} }

// MakeRead builds a Read state requesting numBytes from address.
func MakeRead(address uint64, numBytes int) State {
	return State{Kind: Read, Address: address, NumBytes: numBytes}
}

// MakeWrite builds a Write state storing value at address.
func MakeWrite(address uint64, value []byte) State {
	return State{Kind: Write, Address: address, NumBytes: len(value), Value: value}
}

// MakeAtomic builds an Atomic state applying op at address with the given
// operand. casExpect is only meaningful when op == AtomicCAS.
func MakeAtomic(op AtomicOp, address uint64, operand, casExpect []byte) State {
	return State{
		Kind:      Atomic,
		Op:        op,
		Address:   address,
		NumBytes:  len(operand),
		Value:     operand,
		CASExpect: casExpect,
	}
}

// MakeFlush builds a Flush state for address.
func MakeFlush(address uint64) State { return State{Kind: Flush, Address: address} }

// MakeInv builds an Inv state for address.
func MakeInv(address uint64) State { return State{Kind: Inv, Address: address} }

// MakeToNative builds a ToNative state, requesting a direct (non-timed)
// access of numBytes at address.
func MakeToNative(address uint64, numBytes int) State {
	return State{Kind: ToNative, Address: address, NumBytes: numBytes}
}

// MakeTerminate builds a Terminate state carrying the hart's exit code.
func MakeTerminate(exitCode int) State {
	return State{Kind: Terminate, ExitCode: exitCode}
}
