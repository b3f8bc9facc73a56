package memif

import (
	"encoding/binary"

	"github.com/sarchlab/akita/v4/mem/mem"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pando/hoststate"
)

// Bank is a single banked memory controller: a TickingComponent backed by
// akita's mem.Storage, servicing Req messages at a fixed per-access
// latency. It extends the teacher's idealmemcontroller usage with the
// read-modify-write semantics idealmemcontroller doesn't offer, since
// ticking one request to completion per cycle on a single component
// naturally serializes concurrent accesses from different cores — the
// same property the original relies on for RMW indivisibility within one
// memory-controller element.
type Bank struct {
	*sim.TickingComponent

	Port sim.Port

	storage mem.Storage
	latency int

	pending []*pendingAccess
}

type pendingAccess struct {
	req       *Req
	readyTick int
}

// NewBank builds a Bank of the given byte size and fixed access latency
// in cycles.
func NewBank(name string, engine sim.Engine, freq sim.Freq, sizeBytes uint64, latency int) *Bank {
	b := &Bank{
		storage: mem.NewStorage(sizeBytes),
		latency: latency,
	}
	b.TickingComponent = sim.NewTickingComponent(name, engine, freq, b)
	b.Port = sim.NewLimitNumMsgPort(b, 16, name+".Top")
	b.AddPort("Top", b.Port)
	return b
}

// DirectRead bypasses the request/response protocol entirely and reads
// straight from backing storage, with no latency charged — the "direct,
// non-timed access" the ToNative state name promises when Issuer.Issue
// handles a ToNative state rather than routing it as a normal Req.
func (b *Bank) DirectRead(address uint64, numBytes int) ([]byte, error) {
	data := make([]byte, numBytes)
	if err := b.storage.Read(address, data); err != nil {
		return nil, err
	}
	return data, nil
}

// DirectWrite is DirectRead's write-side counterpart.
func (b *Bank) DirectWrite(address uint64, value []byte) error {
	return b.storage.Write(address, value)
}

// Tick accepts at most one new request per cycle and completes whichever
// pending accesses have reached their latency deadline.
func (b *Bank) Tick(now sim.VTimeInSec) (madeProgress bool) {
	madeProgress = b.completePending(now)

	msg := b.Port.PeekIncoming()
	if msg == nil {
		return madeProgress
	}

	req, ok := msg.(*Req)
	if !ok {
		return madeProgress
	}

	b.Port.RetrieveIncoming(now)
	b.pending = append(b.pending, &pendingAccess{req: req, readyTick: b.latency})

	return true
}

func (b *Bank) completePending(now sim.VTimeInSec) bool {
	progressed := false
	remaining := b.pending[:0]

	for _, pa := range b.pending {
		pa.readyTick--
		if pa.readyTick > 0 {
			remaining = append(remaining, pa)
			continue
		}

		rsp := b.execute(pa.req, now)
		err := b.Port.Send(rsp)
		if err != nil {
			pa.readyTick = 1
			remaining = append(remaining, pa)
			continue
		}

		progressed = true
	}

	b.pending = remaining
	return progressed
}

func (b *Bank) execute(req *Req, now sim.VTimeInSec) *Rsp {
	builder := RspBuilder{}.
		WithSrc(b.Port.AsRemote()).
		WithDst(req.Src).
		WithSendTime(now).
		WithRespondTo(req.ID)

	switch req.Kind {
	case hoststate.Read, hoststate.ToNative:
		data := make([]byte, req.NumBytes)
		if err := b.storage.Read(req.Address, data); err != nil {
			return builder.WithErr(err).Build()
		}
		return builder.WithData(data).Build()

	case hoststate.Write:
		if err := b.storage.Write(req.Address, req.WriteData); err != nil {
			return builder.WithErr(err).Build()
		}
		return builder.Build()

	case hoststate.Atomic:
		old := make([]byte, len(req.WriteData))
		if err := b.storage.Read(req.Address, old); err != nil {
			return builder.WithErr(err).Build()
		}

		newVal, apply := applyAtomic(req.AtomicOp, old, req.WriteData, req.CASExpect)
		if apply {
			if err := b.storage.Write(req.Address, newVal); err != nil {
				return builder.WithErr(err).Build()
			}
		}

		return builder.WithData(old).Build()

	case hoststate.Flush, hoststate.Inv:
		return builder.Build()

	default:
		return builder.WithErr(ErrBadAddress).Build()
	}
}

// applyAtomic computes the new value and whether to write it back, for
// the three official atomic kinds.
func applyAtomic(op hoststate.AtomicOp, old, operand, casExpect []byte) (newVal []byte, apply bool) {
	switch op {
	case hoststate.AtomicSwap:
		return operand, true
	case hoststate.AtomicAdd:
		sum := make([]byte, len(operand))
		a := toUint64(old)
		b := toUint64(operand)
		fromUint64(sum, a+b)
		return sum, true
	case hoststate.AtomicCAS:
		if string(old) == string(casExpect) {
			return operand, true
		}
		return nil, false
	default:
		return nil, false
	}
}

func toUint64(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

func fromUint64(dst []byte, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(dst, buf[:len(dst)])
}
