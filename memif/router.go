package memif

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pando/addr"
)

// Router resolves a decoded address to the remote port of the bank that
// owns it, mirroring the teacher's mem.LowModuleFinder role but keyed on
// the three-level (class, pxn, pod[, core]) coordinate instead of a flat
// address range.
type Router struct {
	l1sp map[[3]int]sim.RemotePort // key: pxn,pod,core
	l2sp map[[2]int]sim.RemotePort // key: pxn,pod
	dram map[[1]int]sim.RemotePort // key: pxn
	ctrl map[[3]int]sim.RemotePort // key: pxn,pod,core

	direct map[addr.Class]map[[3]int]*Bank
}

// NewRouter builds an empty Router; banks are registered with the
// Register* methods as fabric's DeviceBuilder wires up the topology.
func NewRouter() *Router {
	return &Router{
		l1sp: make(map[[3]int]sim.RemotePort),
		l2sp: make(map[[2]int]sim.RemotePort),
		dram: make(map[[1]int]sim.RemotePort),
		ctrl: make(map[[3]int]sim.RemotePort),
		direct: map[addr.Class]map[[3]int]*Bank{
			addr.L1SP: {},
			addr.L2SP: {},
			addr.DRAM: {},
		},
	}
}

func (r *Router) RegisterL1SP(pxn, pod, core int, port sim.RemotePort, bank *Bank) {
	r.l1sp[[3]int{pxn, pod, core}] = port
	r.direct[addr.L1SP][[3]int{pxn, pod, core}] = bank
}

func (r *Router) RegisterL2SP(pxn, pod int, port sim.RemotePort, bank *Bank) {
	r.l2sp[[2]int{pxn, pod}] = port
	r.direct[addr.L2SP][[3]int{pxn, pod, 0}] = bank
}

func (r *Router) RegisterDRAM(pxn int, port sim.RemotePort, bank *Bank) {
	r.dram[[1]int{pxn}] = port
	r.direct[addr.DRAM][[3]int{pxn, 0, 0}] = bank
}

func (r *Router) RegisterCoreCtrl(pxn, pod, core int, port sim.RemotePort) {
	r.ctrl[[3]int{pxn, pod, core}] = port
}

// FindBank resolves info to the owning Bank directly, for the ToNative
// bypass accesses Issuer.Issue performs.
func (r *Router) FindBank(info addr.Info) (*Bank, error) {
	var key [3]int
	switch info.Class {
	case addr.L1SP:
		key = [3]int{info.PXN, info.Pod, info.Core}
	case addr.L2SP:
		key = [3]int{info.PXN, info.Pod, 0}
	case addr.DRAM:
		key = [3]int{info.PXN, 0, 0}
	default:
		return nil, fmt.Errorf("%w: %s has no direct-access bank", ErrBadAddress, info)
	}

	if b, ok := r.direct[info.Class][key]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrBadAddress, info)
}

// Find resolves info (an already-absolute addr.Info) to the remote port
// of the bank/controller that owns it.
func (r *Router) Find(info addr.Info) (sim.RemotePort, error) {
	switch info.Class {
	case addr.L1SP:
		if p, ok := r.l1sp[[3]int{info.PXN, info.Pod, info.Core}]; ok {
			return p, nil
		}
	case addr.L2SP:
		if p, ok := r.l2sp[[2]int{info.PXN, info.Pod}]; ok {
			return p, nil
		}
	case addr.DRAM:
		if p, ok := r.dram[[1]int{info.PXN}]; ok {
			return p, nil
		}
	case addr.CoreCtrl:
		if p, ok := r.ctrl[[3]int{info.PXN, info.Pod, info.Core}]; ok {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrBadAddress, info)
}
