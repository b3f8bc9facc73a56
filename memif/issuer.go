package memif

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pando/addr"
	"github.com/sarchlab/pando/hoststate"
)

// Issuer turns a hart's suspended hoststate.State into a routed Req on
// the owning core's memory port, and matches completed Rsp messages back
// to their originating hart by request ID — the multi-hart generalization
// of the teacher's single-outstanding-request Waiting/WaitingInst fields
// in core.Core.Tick.
type Issuer struct {
	port   sim.Port
	codec  *addr.Codec
	router *Router
	pid    int

	outstanding map[string]int // req ID -> hart index
}

// NewIssuer builds an Issuer for one core: port is the core's own memory
// port, codec resolves that core's relative addresses, router finds the
// bank owning any absolute address, and pid is the process ID stamped on
// every request this core sends.
func NewIssuer(port sim.Port, codec *addr.Codec, router *Router, pid int) *Issuer {
	return &Issuer{
		port:        port,
		codec:       codec,
		router:      router,
		pid:         pid,
		outstanding: make(map[string]int),
	}
}

// Issue routes state to its owning bank on behalf of hartIdx, returning
// the request ID to correlate with the eventual Rsp, or handles it
// immediately (ToNative) without touching the network.
func (iss *Issuer) Issue(now sim.VTimeInSec, hartIdx int, state hoststate.State) (reqID string, result []byte, err error) {
	info := iss.codec.Decode(state.Address)
	if !info.Absolute {
		info.Absolute = true
	}

	// A bank's backing storage is sized to one region's own byte range, so
	// it must be addressed by info.Offset (the address stripped of its
	// absolute/class/coordinate tag bits), never by the wide tagged value a
	// hart computes and hands to Issue.
	if state.Kind == hoststate.ToNative {
		bank, ferr := iss.router.FindBank(info)
		if ferr != nil {
			return "", nil, ferr
		}
		if state.Value != nil {
			return "", nil, bank.DirectWrite(info.Offset, state.Value)
		}
		data, rerr := bank.DirectRead(info.Offset, state.NumBytes)
		return "", data, rerr
	}

	dst, err := iss.router.Find(info)
	if err != nil {
		return "", nil, err
	}

	reqAddr := state.Address
	if info.Class != addr.CoreCtrl {
		reqAddr = info.Offset
	}

	req := ReqBuilder{}.
		WithSrc(iss.port.AsRemote()).
		WithDst(dst).
		WithSendTime(now).
		WithPID(iss.pid).
		WithAddress(reqAddr).
		WithNumBytes(numBytesFor(state)).
		WithKind(state.Kind).
		WithWriteData(state.Value).
		WithAtomic(state.Op, state.CASExpect).
		Build()

	if err := iss.port.Send(req); err != nil {
		return "", nil, err
	}

	iss.outstanding[req.ID] = hartIdx
	return req.ID, nil, nil
}

func numBytesFor(state hoststate.State) int {
	if state.NumBytes > 0 {
		return state.NumBytes
	}
	return len(state.Value)
}

// Poll checks the port for a completed response, retrieving it and
// reporting which hart it belongs to.
func (iss *Issuer) Poll(now sim.VTimeInSec) (hartIdx int, data []byte, err error, ok bool) {
	msg := iss.port.PeekIncoming()
	if msg == nil {
		return 0, nil, nil, false
	}

	rsp, match := msg.(*Rsp)
	if !match {
		return 0, nil, nil, false
	}

	idx, known := iss.outstanding[rsp.RespondTo]
	if !known {
		iss.port.RetrieveIncoming(now)
		return 0, nil, fmt.Errorf("memif: response to unknown request %s", rsp.RespondTo), true
	}

	delete(iss.outstanding, rsp.RespondTo)
	iss.port.RetrieveIncoming(now)

	return idx, rsp.Data, rsp.Err, true
}
