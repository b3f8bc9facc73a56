package fabric_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/akita/v4/sim/directconnection"
	"github.com/sarchlab/pando/addr"
	"github.com/sarchlab/pando/config"
	"github.com/sarchlab/pando/elfimage"
	"github.com/sarchlab/pando/fabric"
	"github.com/sarchlab/pando/hostthread"
	"github.com/sarchlab/pando/memif"
	"github.com/sarchlab/pando/riscv"
	"github.com/sarchlab/pando/riscv/asm"
	"github.com/sarchlab/pando/riscv/icache"
	"github.com/sarchlab/pando/syscall"
)

// assembleELF assembles src into a standalone ELF64 executable at base and
// saves it under a fresh per-spec temp directory, returning the path a
// config.HartConfig.Executable can name.
func assembleELF(src string, base uint64) string {
	code, err := asm.Assemble(src, base)
	Expect(err).NotTo(HaveOccurred())

	path := filepath.Join(GinkgoT().TempDir(), "a.out")
	Expect(elfimage.SaveELF(path, base, code)).To(Succeed())
	return path
}

// runToCompletion schedules every core's ticking component and drains the
// engine, the same kick-then-run shape cmd/pando-sim uses.
func runToCompletion(engine sim.Engine, device *fabric.Device) {
	for _, c := range device.Cores {
		engine.Schedule(sim.MakeTickEvent(c.TickingComponent, 0))
	}
	engine.Run()
}

var _ = Describe("Hello world RISC-V", func() {
	It("prints Hi\\n to the console and exits 0", func() {
		codec := addr.NewCodec(0, 0, 0, 1, 1, 1)
		ctrlAddr := codec.AbsoluteCoreCtrl(0, 0, 0, addr.CtrlPrintChar)

		src := fmt.Sprintf(`
			la x1, %d
			addi x2, x0, 72
			sb x2, 0(x1)
			addi x2, x0, 105
			sb x2, 0(x1)
			addi x2, x0, 10
			sb x2, 0(x1)
			addi x17, x0, 93
			addi x10, x0, 0
			ecall
		`, ctrlAddr)
		exe := assembleELF(src, 0x1000)

		cfg := &config.SysConfig{
			Topology: config.Topology{
				NumPXN: 1, PodsPerPXN: 1, CoresPerPod: 1, HartsPerCore: 1,
				L1SPBytes: 1 << 16, L2SPBytes: 1 << 12, DRAMBytes: 1 << 12,
				Timing: config.MemoryTiming{L1SPLatency: 1, L2SPLatency: 1, DRAMLatency: 1},
			},
			Cores: map[string]config.CoreConfig{
				config.CoreKey(0, 0, 0): {Harts: []config.HartConfig{{Kind: config.HartRISCV, Executable: exe}}},
			},
		}

		engine := sim.NewSerialEngine()
		device, err := fabric.NewDeviceBuilder(engine, 1*sim.GHz, cfg).Build("Hello")
		Expect(err).NotTo(HaveOccurred())

		var console bytes.Buffer
		device.Cores[0].SetConsole(&console)

		runToCompletion(engine, device)

		Expect(console.String()).To(Equal("Hi\n"))
		Expect(device.Cores[0].ExitCodes()).To(Equal([]int{0}))
	})
})

var _ = Describe("Release from reset", func() {
	It("lets core 1 observe core 0's DRAM write only after its reset is released", func() {
		codec := addr.NewCodec(0, 0, 0, 1, 1, 2)
		dramAddr := codec.Encode(addr.Info{Class: addr.DRAM, Offset: 0})
		resetAddr := codec.AbsoluteCoreCtrl(0, 0, 1, addr.CtrlReset)

		writer := assembleELF(fmt.Sprintf(`
			la x1, %d
			addi x2, x0, 1
			sd x2, 0(x1)
			la x3, %d
			sd x0, 0(x3)
			addi x17, x0, 93
			addi x10, x0, 0
			ecall
		`, dramAddr, resetAddr), 0x1000)

		reader := assembleELF(fmt.Sprintf(`
			la x1, %d
			ld x2, 0(x1)
			addi x17, x0, 93
			addi x10, x2, 0
			ecall
		`, dramAddr), 0x1000)

		cfg := &config.SysConfig{
			Topology: config.Topology{
				NumPXN: 1, PodsPerPXN: 1, CoresPerPod: 2, HartsPerCore: 1,
				L1SPBytes: 1 << 16, L2SPBytes: 1 << 12, DRAMBytes: 1 << 12,
				Timing: config.MemoryTiming{L1SPLatency: 1, L2SPLatency: 1, DRAMLatency: 1},
			},
			Cores: map[string]config.CoreConfig{
				config.CoreKey(0, 0, 0): {Harts: []config.HartConfig{{Kind: config.HartRISCV, Executable: writer}}},
				config.CoreKey(0, 0, 1): {
					Harts:        []config.HartConfig{{Kind: config.HartRISCV, Executable: reader}},
					StartInReset: true,
				},
			},
		}

		engine := sim.NewSerialEngine()
		device, err := fabric.NewDeviceBuilder(engine, 1*sim.GHz, cfg).Build("Release")
		Expect(err).NotTo(HaveOccurred())

		runToCompletion(engine, device)

		Expect(device.Cores[0].ExitCodes()).To(Equal([]int{0}))
		Expect(device.Cores[1].ExitCodes()).To(Equal([]int{1}))
	})
})

var _ = Describe("Amoadd race", func() {
	It("leaves the shared word at exactly harts*iterations after concurrent amoadd.w", func() {
		const harts, iterations = 4, 50

		codec := addr.NewCodec(0, 0, 0, 1, 1, 1)
		dramAddr := codec.Encode(addr.Info{Class: addr.DRAM, Offset: 0})

		exe := assembleELF(fmt.Sprintf(`
			la x1, %d
			addi x2, x0, %d
			addi x3, x0, 1
			loop:
			amoadd.w x0, x3, (x1)
			addi x2, x2, -1
			bne x2, x0, loop
			addi x17, x0, 93
			addi x10, x0, 0
			ecall
		`, dramAddr, iterations), 0x1000)

		harts4 := make([]config.HartConfig, harts)
		for i := range harts4 {
			harts4[i] = config.HartConfig{Kind: config.HartRISCV, Executable: exe}
		}

		cfg := &config.SysConfig{
			Topology: config.Topology{
				NumPXN: 1, PodsPerPXN: 1, CoresPerPod: 1, HartsPerCore: harts,
				L1SPBytes: 1 << 16, L2SPBytes: 1 << 12, DRAMBytes: 1 << 12,
				Timing: config.MemoryTiming{L1SPLatency: 1, L2SPLatency: 1, DRAMLatency: 1},
			},
			Cores: map[string]config.CoreConfig{
				config.CoreKey(0, 0, 0): {Harts: harts4},
			},
		}

		engine := sim.NewSerialEngine()
		device, err := fabric.NewDeviceBuilder(engine, 1*sim.GHz, cfg).Build("Amoadd")
		Expect(err).NotTo(HaveOccurred())

		runToCompletion(engine, device)

		Expect(device.Cores[0].ExitCodes()).To(Equal([]int{0, 0, 0, 0}))

		data, err := device.DRAM[0].DirectRead(0, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(binary.LittleEndian.Uint32(data)).To(Equal(uint32(harts * iterations)))
	})
})

var _ = Describe("Sleep CSR", func() {
	It("does not retire the next instruction before the requested cycle count elapses", func() {
		const sleepCycles = 5

		engine := sim.NewSerialEngine()
		codec := addr.NewCodec(0, 0, 0, 1, 1, 1)
		router := memif.NewRouter()

		l1sp := memif.NewBank("L1SP", engine, 1*sim.GHz, 1<<16, 1)
		router.RegisterL1SP(0, 0, 0, l1sp.Port.AsRemote(), l1sp)

		core := fabric.NewCore("Core0", engine, 1*sim.GHz, codec, router, 0, 0, false)
		conn := directconnection.MakeBuilder().WithEngine(engine).WithFreq(1 * sim.GHz).Build("L1SPConn")
		conn.PlugIn(core.MemPort)
		conn.PlugIn(l1sp.Port)

		exe := assembleELF(fmt.Sprintf(`
			csrrwi x0, sleep, %d
			addi x17, x0, 93
			addi x10, x0, 0
			ecall
		`, sleepCycles), 0x1000)

		img, err := elfimage.LoadFile(exe)
		Expect(err).NotTo(HaveOccurred())
		Expect(img.WriteTo(l1sp, 4096)).To(Succeed())

		cache := icache.New(img, 64, 64, 4)
		regs := &riscv.Regs{}
		bridge := syscall.NewBridge()
		task := riscv.NewTask(cache, regs, img.Entry, riscv.CSREnv{},
			func(api hostthread.MemAPI, regs *riscv.Regs) (bool, int) {
				return bridge.Handle(api, regs)
			},
			core.Counters().AddInstruction)
		core.AddHart(task)

		for i := 0; i < sleepCycles-1; i++ {
			core.Tick(0)
		}
		Expect(core.Counters().Snapshot().Instructions).To(Equal(int64(0)))
		Expect(core.AllDone()).To(BeFalse())

		for i := 0; i < 20; i++ {
			core.Tick(0)
		}
		Expect(core.AllDone()).To(BeTrue())
		Expect(core.ExitCodes()).To(Equal([]int{0}))
	})
})

var _ = Describe("Coroutine fairness", func() {
	It("schedules every ready hart at least k-1 times after k*H ticks", func() {
		const hartCount, k = 4, 5

		engine := sim.NewSerialEngine()
		codec := addr.NewCodec(0, 0, 0, 1, 1, 1)
		router := memif.NewRouter()
		core := fabric.NewCore("Core0", engine, 1*sim.GHz, codec, router, 0, 0, false)

		counts := make([]int64, hartCount)
		for i := range counts {
			i := i
			core.AddHart(func(api hostthread.MemAPI) {
				for {
					atomic.AddInt64(&counts[i], 1)
					api.Nop(0)
				}
			})
		}

		for i := 0; i < k*hartCount; i++ {
			core.Tick(0)
		}

		for i, c := range counts {
			Expect(c).To(BeNumerically(">=", int64(k-1)), "hart %d ran %d times", i, c)
		}
	})
})
