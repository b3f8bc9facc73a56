// Package memif is the memory-request protocol every hart's Read, Write,
// Atomic, Flush, Inv, and ToNative state routes through: request/response
// message types, per-hart request tracking, and routing to the banked
// memory controllers that back L1SP, L2SP, and DRAM.
//
// Requests travel over the same transport the teacher uses for its core's
// memory port: an akita/v4/sim.Port pair joined by a
// sim/directconnection.Comp, carrying akita/v4/mem/mem-style request and
// response messages built with a fluent builder, exactly as
// sarchlab-zeonica/core/core.go issues mem.ReadReqBuilder requests and
// matches *mem.DataReadyRsp responses.
package memif

import (
	"fmt"

	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pando/hoststate"
)

// Req is one in-flight memory request issued on behalf of a hart's
// suspended state, tracked until its matching Rsp arrives.
type Req struct {
	sim.MsgMeta

	PID      int
	Address  uint64
	NumBytes int

	// Kind mirrors the hoststate.Kind that produced this request, so the
	// bank controller knows which operation to perform.
	Kind hoststate.Kind

	// WriteData carries the bytes to store for Write and the operand for
	// Atomic.
	WriteData []byte

	// AtomicOp and CASExpect are meaningful only when Kind == Atomic.
	AtomicOp  hoststate.AtomicOp
	CASExpect []byte
}

// Meta implements sim.Msg.
func (r *Req) Meta() *sim.MsgMeta { return &r.MsgMeta }

// ReqBuilder builds Req messages, following the fluent
// With*().Build() shape of mem.ReadReqBuilder.
type ReqBuilder struct {
	req Req
}

func (b ReqBuilder) WithSrc(p sim.RemotePort) ReqBuilder    { b.req.Src = p; return b }
func (b ReqBuilder) WithDst(p sim.RemotePort) ReqBuilder    { b.req.Dst = p; return b }
func (b ReqBuilder) WithSendTime(t sim.VTimeInSec) ReqBuilder {
	b.req.SendTime = t
	return b
}
func (b ReqBuilder) WithPID(pid int) ReqBuilder { b.req.PID = pid; return b }
func (b ReqBuilder) WithAddress(addr uint64) ReqBuilder {
	b.req.Address = addr
	return b
}
func (b ReqBuilder) WithNumBytes(n int) ReqBuilder { b.req.NumBytes = n; return b }
func (b ReqBuilder) WithKind(k hoststate.Kind) ReqBuilder { b.req.Kind = k; return b }
func (b ReqBuilder) WithWriteData(data []byte) ReqBuilder {
	b.req.WriteData = data
	return b
}
func (b ReqBuilder) WithAtomic(op hoststate.AtomicOp, casExpect []byte) ReqBuilder {
	b.req.AtomicOp = op
	b.req.CASExpect = casExpect
	return b
}

// Build returns the constructed Req, stamping a fresh message ID.
func (b ReqBuilder) Build() *Req {
	r := b.req
	r.ID = xid.New().String()
	return &r
}

// Rsp is the bank controller's reply to a Req.
type Rsp struct {
	sim.MsgMeta

	RespondTo string // the Req.ID this answers

	// Data carries the bytes read (Read, Atomic's pre-image, ToNative
	// reads); nil for Write/Flush/Inv.
	Data []byte

	Err error
}

// Meta implements sim.Msg.
func (r *Rsp) Meta() *sim.MsgMeta { return &r.MsgMeta }

// RspBuilder builds Rsp messages.
type RspBuilder struct {
	rsp Rsp
}

func (b RspBuilder) WithSrc(p sim.RemotePort) RspBuilder { b.rsp.Src = p; return b }
func (b RspBuilder) WithDst(p sim.RemotePort) RspBuilder { b.rsp.Dst = p; return b }
func (b RspBuilder) WithSendTime(t sim.VTimeInSec) RspBuilder {
	b.rsp.SendTime = t
	return b
}
func (b RspBuilder) WithRespondTo(id string) RspBuilder { b.rsp.RespondTo = id; return b }
func (b RspBuilder) WithData(data []byte) RspBuilder    { b.rsp.Data = data; return b }
func (b RspBuilder) WithErr(err error) RspBuilder        { b.rsp.Err = err; return b }

func (b RspBuilder) Build() *Rsp {
	r := b.rsp
	r.ID = xid.New().String()
	return &r
}

// ErrBadAddress is returned when a request's address cannot be routed to
// any configured bank — a malformed or out-of-range address.
var ErrBadAddress = fmt.Errorf("memif: address does not map to any bank")
