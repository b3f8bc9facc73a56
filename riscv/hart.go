package riscv

import (
	"errors"

	"github.com/sarchlab/pando/hostthread"
	"github.com/sarchlab/pando/riscv/icache"
	"github.com/sarchlab/pando/riscv/isa"
)

// ECallHandler dispatches a guest ECALL (the syscall package implements
// this). It returns exit=true once the guest has requested termination,
// along with the process exit code to report.
type ECallHandler func(api hostthread.MemAPI, regs *Regs) (exit bool, code int)

// NewTask builds a hostthread.Task that runs a fetch-decode-execute loop
// over cache/regs, starting at entry, dispatching ECALL through onECALL.
// The returned Task is meant to be handed to hostthread.NewHart, which
// runs it as a goroutine and trades control with the scheduler at every
// suspension point inside Step. onInstruction, if non-nil, is called once
// per retired instruction — the hook fabric.Core uses to feed its
// retired-instruction counter.
func NewTask(cache *icache.Cache, regs *Regs, entry uint64, env CSREnv, onECALL ECallHandler, onInstruction func()) hostthread.Task {
	regs.SetPC(entry)

	return func(api hostthread.MemAPI) {
		for {
			raw := fetch(cache, regs.PC())
			inst := isa.Decode(raw)

			next, err := Step(regs, inst, api, env)
			if onInstruction != nil {
				onInstruction()
			}
			switch {
			case errors.Is(err, ErrECall):
				exit, code := onECALL(api, regs)
				if exit {
					api.Exit(code)
				}
				regs.SetPC(regs.PC() + 4)
			case errors.Is(err, ErrEBreak):
				regs.SetPC(regs.PC() + 4)
			case err != nil:
				panic(err)
			default:
				regs.SetPC(next)
			}

			// Every retired instruction yields once, even ALU/branch-only
			// ones that never touch api.Read/Write/Atomic. Without this, a
			// hart running a tight compute loop would never suspend and
			// would starve every other hart slot sharing the core's
			// round-robin scheduler.
			api.Nop(0)
		}
	}
}

func fetch(cache *icache.Cache, pc uint64) uint32 {
	data, _ := cache.Read(pc)
	if len(data) < 4 {
		padded := make([]byte, 4)
		copy(padded, data)
		data = padded
	}
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
}
