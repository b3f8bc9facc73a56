package fabric

import (
	"bytes"
	"testing"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pando/addr"
	"github.com/sarchlab/pando/hostthread"
	"github.com/sarchlab/pando/memif"
)

func newTestCore(t *testing.T, name string) *Core {
	t.Helper()
	return newTestCoreWithIdle(t, name, 0)
}

func newTestCoreWithIdle(t *testing.T, name string, maxIdleCycles int) *Core {
	t.Helper()
	engine := sim.NewSerialEngine()
	codec := addr.NewCodec(0, 0, 0, 1, 1, 1)
	router := memif.NewRouter()
	return NewCore(name, engine, 1*sim.GHz, codec, router, 0, maxIdleCycles, false)
}

func TestCoreRoundRobinsHartsToTermination(t *testing.T) {
	c := newTestCore(t, "Core0")

	c.AddHart(func(api hostthread.MemAPI) { api.Exit(7) })
	c.AddHart(func(api hostthread.MemAPI) { api.Exit(9) })

	c.Tick(0)
	if c.AllDone() {
		t.Fatal("expected only one hart to have terminated after the first tick")
	}

	c.Tick(0)
	if !c.AllDone() {
		t.Fatal("expected both harts to have terminated after the second tick")
	}

	codes := c.ExitCodes()
	if codes[0] != 7 || codes[1] != 9 {
		t.Fatalf("ExitCodes = %v, want [7 9]", codes)
	}
}

func TestCoreNopDelayStallsThenResumes(t *testing.T) {
	c := newTestCore(t, "Core0")
	c.AddHart(func(api hostthread.MemAPI) {
		api.Nop(3)
		api.Exit(1)
	})

	c.Tick(0) // issues the Nop(3)
	c.Tick(0) // nopRemaining: 3->2, stall
	c.Tick(0) // nopRemaining: 2->1, stall
	c.Tick(0) // nopRemaining: 1->0, resumes and exits

	if !c.AllDone() {
		t.Fatal("expected hart to have terminated after the Nop delay elapsed")
	}
	if codes := c.ExitCodes(); codes[0] != 1 {
		t.Fatalf("ExitCodes = %v, want [1]", codes)
	}

	snap := c.Counters().Snapshot()
	if snap.BusyCycles != 1 {
		t.Fatalf("BusyCycles = %d, want 1", snap.BusyCycles)
	}
	if snap.StallCycles != 2 {
		t.Fatalf("StallCycles = %d, want 2", snap.StallCycles)
	}
}

func TestCoreAllDoneOnEmptyCore(t *testing.T) {
	c := newTestCore(t, "Core0")
	if !c.AllDone() {
		t.Fatal("a core with no harts should report AllDone")
	}
}

func TestCoreResetGatesHarts(t *testing.T) {
	c := newTestCore(t, "Core0")
	ran := false
	c.AddHart(func(api hostthread.MemAPI) {
		ran = true
		api.Exit(0)
	})
	c.resetAsserted = true

	c.Tick(0)
	if ran {
		t.Fatal("hart ran while its core was held in reset")
	}

	c.resetAsserted = false
	c.Tick(0)
	if !ran {
		t.Fatal("hart should run once reset is released")
	}
}

func TestCoreCtrlWritePrintsDecimal(t *testing.T) {
	c := newTestCore(t, "Core0")
	var buf bytes.Buffer
	c.SetConsole(&buf)

	c.handleCtrlWrite(addr.Info{Offset: addr.CtrlPrintDecimal}, []byte{42, 0, 0, 0, 0, 0, 0, 0})
	if buf.String() != "42\n" {
		t.Fatalf("console = %q, want %q", buf.String(), "42\n")
	}
}

func TestCoreCtrlWriteTogglesReset(t *testing.T) {
	c := newTestCore(t, "Core0")

	c.handleCtrlWrite(addr.Info{Offset: addr.CtrlReset}, []byte{1})
	if !c.resetAsserted {
		t.Fatal("expected reset asserted after a non-zero CtrlReset write")
	}

	c.handleCtrlWrite(addr.Info{Offset: addr.CtrlReset}, []byte{0})
	if c.resetAsserted {
		t.Fatal("expected reset released after a zero CtrlReset write")
	}
}

func TestCoreNeverGatesWhileAnyHartSleeps(t *testing.T) {
	c := newTestCoreWithIdle(t, "Core0", 1)
	c.AddHart(func(api hostthread.MemAPI) {
		api.Nop(1000)
		api.Exit(0)
	})

	c.Tick(0) // issues the Nop(1000)
	for i := 0; i < 5; i++ {
		if !c.Tick(0) {
			t.Fatal("core gated while a hart was mid sleep-CSR countdown")
		}
	}
}

func TestCoreMaxIdleCyclesGatesClock(t *testing.T) {
	c := newTestCoreWithIdle(t, "Core0", 2)
	c.AddHart(func(api hostthread.MemAPI) {})
	// Simulate a hart stuck waiting on a response that never arrives, the
	// only way a slot stays neither runnable nor Nop-sleeping nor done.
	c.slots[0].phase = phaseWaitingMem

	if !c.Tick(0) {
		t.Fatal("expected Tick to report progress while under the idle budget")
	}
	if c.Tick(0) {
		t.Fatal("expected Tick to report no progress once the idle budget is exhausted")
	}
}
