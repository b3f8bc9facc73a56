// Package stats accumulates per-core statistics: classified memory-access
// counts and busy/stall cycle totals, the same bookkeeping the original
// simulator's DrvCore keeps per-core for its end-of-run report.
package stats

import (
	"io"
	"sync/atomic"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sarchlab/pando/addr"
)

// Counters is one core's running statistics. All fields are accessed with
// the atomic package so a core's Tick goroutine and a concurrent reporter
// never race, mirroring DrvCore's addXStat helpers being safe to call from
// any hart's trap.
type Counters struct {
	name string

	busyCycles  int64
	stallCycles int64

	loads   [4]int64 // indexed by addr.Class
	stores  [4]int64
	atomics [4]int64

	instructions int64
}

// New creates a zeroed Counters for the named core.
func New(name string) *Counters {
	return &Counters{name: name}
}

// AddBusyCycle records one cycle in which the core retired or issued work.
func (c *Counters) AddBusyCycle() { atomic.AddInt64(&c.busyCycles, 1) }

// AddStallCycle records one cycle in which every hart was blocked.
func (c *Counters) AddStallCycle() { atomic.AddInt64(&c.stallCycles, 1) }

// AddInstruction records one retired instruction (RISC-V harts only;
// native-hosted harts have no instruction count).
func (c *Counters) AddInstruction() { atomic.AddInt64(&c.instructions, 1) }

// AddLoad classifies one completed Read by the memory class it targeted.
func (c *Counters) AddLoad(class addr.Class) { atomic.AddInt64(&c.loads[class], 1) }

// AddStore classifies one completed Write.
func (c *Counters) AddStore(class addr.Class) { atomic.AddInt64(&c.stores[class], 1) }

// AddAtomic classifies one completed atomic RMW.
func (c *Counters) AddAtomic(class addr.Class) { atomic.AddInt64(&c.atomics[class], 1) }

// Snapshot is a point-in-time copy of Counters, safe to hand to a reporter
// without holding any lock on the live counters.
type Snapshot struct {
	Name         string
	BusyCycles   int64
	StallCycles  int64
	Instructions int64
	Loads        [4]int64
	Stores       [4]int64
	Atomics      [4]int64
}

// Snapshot reads every counter atomically.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{Name: c.name}
	s.BusyCycles = atomic.LoadInt64(&c.busyCycles)
	s.StallCycles = atomic.LoadInt64(&c.stallCycles)
	s.Instructions = atomic.LoadInt64(&c.instructions)
	for i := range c.loads {
		s.Loads[i] = atomic.LoadInt64(&c.loads[i])
		s.Stores[i] = atomic.LoadInt64(&c.stores[i])
		s.Atomics[i] = atomic.LoadInt64(&c.atomics[i])
	}
	return s
}

// Report writes a human-readable table of every core's counters to w,
// one row per core, the console summary the original's run-end stat dump
// provides as a flat text report.
func Report(w io.Writer, snapshots []Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Core", "Busy", "Stall", "Instr", "Loads", "Stores", "Atomics"})

	for _, s := range snapshots {
		t.AppendRow(table.Row{
			s.Name,
			s.BusyCycles,
			s.StallCycles,
			s.Instructions,
			sum(s.Loads[:]),
			sum(s.Stores[:]),
			sum(s.Atomics[:]),
		})
	}

	t.Render()
}

func sum(vs []int64) int64 {
	var total int64
	for _, v := range vs {
		total += v
	}
	return total
}
