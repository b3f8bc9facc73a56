// Package fabric assembles and drives the PXN/Pod/Core topology: the
// per-core hart scheduler (this file) and the device-wide topology builder
// (builder.go) that wires cores to banked memory controllers.
package fabric

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pando/addr"
	"github.com/sarchlab/pando/hoststate"
	"github.com/sarchlab/pando/hostthread"
	"github.com/sarchlab/pando/memif"
	"github.com/sarchlab/pando/stats"
)

// hartPhase is where one hart slot currently stands between Resume calls,
// the generalization of the teacher's single Core.Waiting bool to an
// arbitrary number of independently-scheduled harts.
type hartPhase int

const (
	phaseRunnable hartPhase = iota
	phaseWaitingMem
	phaseWaitingNop
	phaseDone
)

type hartSlot struct {
	hart  *hostthread.Hart
	phase hartPhase

	nopRemaining int

	pendingKind  hoststate.Kind
	pendingClass addr.Class

	exitCode int
}

// Core is one hardware core: a fixed number of hart slots multiplexed onto
// a single memory port, round-robin scheduled the way the teacher's
// Core.Tick drives exactly one unit of work (or one pending completion)
// per invocation.
type Core struct {
	*sim.TickingComponent

	MemPort  sim.Port
	CtrlPort sim.Port

	name     string
	issuer   *memif.Issuer
	codec    *addr.Codec
	counters *stats.Counters
	console  io.Writer

	slots   []*hartSlot
	current int

	// resetAsserted holds every hart slot out of the schedule until a
	// CtrlReset write with value 0 releases it, the addressable
	// counterpart of the teacher's always-on core.
	resetAsserted bool

	// maxIdleCycles bounds consecutive idle cycles before Tick reports no
	// further progress, letting the engine stop rescheduling this core
	// until an inbound message (a CoreCtrl request, a memory response)
	// wakes it again. Zero disables power-gating.
	maxIdleCycles int
	idleCycles    int
}

// NewCore builds a Core with no harts yet attached; AddHart populates hart
// slots before the simulation starts. maxIdleCycles and startInReset come
// from the core's config.CoreConfig.
func NewCore(name string, engine sim.Engine, freq sim.Freq, codec *addr.Codec, router *memif.Router, pid int, maxIdleCycles int, startInReset bool) *Core {
	c := &Core{
		name:          name,
		codec:         codec,
		counters:      stats.New(name),
		console:       os.Stdout,
		resetAsserted: startInReset,
		maxIdleCycles: maxIdleCycles,
	}

	c.TickingComponent = sim.NewTickingComponent(name, engine, freq, c)
	c.MemPort = sim.NewLimitNumMsgPort(c, 16, name+".Mem")
	c.AddPort("Mem", c.MemPort)
	c.CtrlPort = sim.NewLimitNumMsgPort(c, 16, name+".Ctrl")
	c.AddPort("Ctrl", c.CtrlPort)

	c.issuer = memif.NewIssuer(c.MemPort, codec, router, pid)

	return c
}

// SetConsole redirects this core's CtrlPrint* output, for tests that want
// to capture it instead of writing to os.Stdout.
func (c *Core) SetConsole(w io.Writer) { c.console = w }

// AddHart attaches a new hart, driven by task, to this core. Hart slots
// are scheduled round-robin in the order they're added.
func (c *Core) AddHart(task hostthread.Task) {
	c.slots = append(c.slots, &hartSlot{hart: hostthread.NewHart(task)})
}

// Counters exposes this core's statistics for end-of-run reporting.
func (c *Core) Counters() *stats.Counters { return c.counters }

// ExitCodes returns the terminal exit code reported by each hart slot, in
// slot order, or 0 for a slot that hasn't terminated yet.
func (c *Core) ExitCodes() []int {
	codes := make([]int, len(c.slots))
	for i, s := range c.slots {
		codes[i] = s.exitCode
	}
	return codes
}

// AllDone reports whether every hart slot has terminated.
func (c *Core) AllDone() bool {
	for _, s := range c.slots {
		if s.phase != phaseDone {
			return false
		}
	}
	return true
}

// Tick advances this core by one cycle: it first services any completed
// memory responses (resuming the harts that were waiting on them), counts
// down Nop delays, and then steps exactly one runnable hart, mirroring the
// teacher's one-Waiting-slot-or-one-instruction-per-Tick shape generalized
// across many independently-suspended harts.
func (c *Core) Tick(now sim.VTimeInSec) (madeProgress bool) {
	if c.serviceCtrl(now) {
		madeProgress = true
	}

	if c.serviceCompletions(now) {
		madeProgress = true
	}

	if c.serviceNops(now) {
		madeProgress = true
	}

	if !c.resetAsserted && c.stepOneRunnable(now) {
		madeProgress = true
		c.counters.AddBusyCycle()
	} else if !c.AllDone() {
		c.counters.AddStallCycle()
	}

	if madeProgress || c.anyWaitingNop() {
		c.idleCycles = 0
		return true
	}

	if c.AllDone() {
		return false
	}

	c.idleCycles++
	if c.maxIdleCycles > 0 && c.idleCycles >= c.maxIdleCycles {
		return false
	}
	return true
}

// anyWaitingNop reports whether any hart slot is mid sleep-CSR countdown.
// A core must never power-gate while this holds: those slots depend on a
// real per-Tick decrement of nopRemaining that a gated clock would never
// deliver.
func (c *Core) anyWaitingNop() bool {
	for _, s := range c.slots {
		if s.phase == phaseWaitingNop {
			return true
		}
	}
	return false
}

// serviceCtrl answers one pending CoreCtrl request, if any: a reset
// register write (asserting or releasing every hart slot on this core) or
// a console print port write. Both are ordinary memif.Req/Rsp exchanges,
// so a hart's own console writes loop back through this same core's
// issuer/CtrlPort pair it would use to reach any other memory class.
func (c *Core) serviceCtrl(now sim.VTimeInSec) bool {
	msg := c.CtrlPort.PeekIncoming()
	if msg == nil {
		return false
	}
	req, ok := msg.(*memif.Req)
	if !ok {
		return false
	}
	c.CtrlPort.RetrieveIncoming(now)

	if req.Kind == hoststate.Write {
		c.handleCtrlWrite(c.codec.Decode(req.Address), req.WriteData)
	}

	rsp := memif.RspBuilder{}.
		WithSrc(c.CtrlPort.AsRemote()).
		WithDst(req.Src).
		WithSendTime(now).
		WithRespondTo(req.ID).
		Build()
	c.CtrlPort.Send(rsp)

	return true
}

func (c *Core) handleCtrlWrite(info addr.Info, data []byte) {
	v := ctrlValue(data)
	switch info.Offset {
	case addr.CtrlReset:
		if v == 0 {
			c.resetAsserted = false
			c.idleCycles = 0
		} else {
			c.resetAsserted = true
		}
	case addr.CtrlPrintDecimal:
		fmt.Fprintf(c.console, "%d\n", int64(v))
	case addr.CtrlPrintHex:
		fmt.Fprintf(c.console, "%#x\n", v)
	case addr.CtrlPrintChar:
		fmt.Fprintf(c.console, "%c", byte(v))
	}
}

// ctrlValue reads a little-endian uint64 out of a store that may be
// narrower than 8 bytes (SB/SH/SW targeting a control register).
func ctrlValue(data []byte) uint64 {
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint64(buf[:])
}

func (c *Core) serviceCompletions(now sim.VTimeInSec) bool {
	progressed := false
	for {
		hartIdx, data, err, ok := c.issuer.Poll(now)
		if !ok {
			break
		}
		progressed = true

		slot := c.slots[hartIdx]
		if err == nil {
			switch slot.pendingKind {
			case hoststate.Read:
				c.counters.AddLoad(slot.pendingClass)
			case hoststate.Write:
				c.counters.AddStore(slot.pendingClass)
			case hoststate.Atomic:
				c.counters.AddAtomic(slot.pendingClass)
			}
		}

		state := slot.hart.Resume(data)
		c.applyState(now, hartIdx, state)
	}
	return progressed
}

func (c *Core) serviceNops(now sim.VTimeInSec) bool {
	progressed := false
	for i, slot := range c.slots {
		if slot.phase != phaseWaitingNop {
			continue
		}
		slot.nopRemaining--
		if slot.nopRemaining > 0 {
			continue
		}
		state := slot.hart.Resume(nil)
		c.applyState(now, i, state)
		progressed = true
	}
	return progressed
}

func (c *Core) stepOneRunnable(now sim.VTimeInSec) bool {
	n := len(c.slots)
	for i := 0; i < n; i++ {
		idx := (c.current + i) % n
		slot := c.slots[idx]
		if slot.phase != phaseRunnable {
			continue
		}

		c.current = (idx + 1) % n

		state := slot.hart.Resume(nil)
		c.applyState(now, idx, state)
		return true
	}
	return false
}

// applyState records what a just-resumed hart yielded, issuing a memory
// request or arming a Nop countdown as needed. For the direct ToNative
// access, the issuer already completed the access synchronously, so the
// hart is resumed again immediately within the same cycle.
func (c *Core) applyState(now sim.VTimeInSec, hartIdx int, state hoststate.State) {
	slot := c.slots[hartIdx]

	switch state.Kind {
	case hoststate.Terminate:
		slot.phase = phaseDone
		slot.exitCode = state.ExitCode

	case hoststate.Nop:
		slot.phase = phaseWaitingNop
		slot.nopRemaining = state.Cycles
		if slot.nopRemaining <= 0 {
			slot.phase = phaseRunnable
		}

	case hoststate.Idle:
		slot.phase = phaseRunnable

	case hoststate.Read, hoststate.Write, hoststate.Atomic, hoststate.Flush, hoststate.Inv, hoststate.ToNative:
		info := c.codec.Decode(state.Address)
		slot.pendingKind = state.Kind
		slot.pendingClass = info.Class

		_, result, err := c.issuer.Issue(now, hartIdx, state)
		if err != nil {
			// Routing failures terminate the offending hart rather than
			// the whole core; a bad guest address shouldn't wedge every
			// other hart sharing this scheduler.
			slot.phase = phaseDone
			slot.exitCode = 1
			return
		}

		if state.Kind == hoststate.ToNative {
			next := slot.hart.Resume(result)
			c.applyState(now, hartIdx, next)
			return
		}

		slot.phase = phaseWaitingMem

	default:
		slot.phase = phaseRunnable
	}
}
