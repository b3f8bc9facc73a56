package fabric

import (
	"fmt"

	"github.com/sarchlab/akita/v4/monitoring"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/akita/v4/sim/directconnection"
	"github.com/sarchlab/pando/addr"
	"github.com/sarchlab/pando/config"
	"github.com/sarchlab/pando/elfimage"
	"github.com/sarchlab/pando/hostthread"
	"github.com/sarchlab/pando/memif"
	"github.com/sarchlab/pando/riscv"
	"github.com/sarchlab/pando/riscv/icache"
	"github.com/sarchlab/pando/syscall"
)

// NativeEntries maps a HartConfig's Entry name to the Go function that
// implements that native-hosted hart, registered by the embedding
// application before calling Build.
type NativeEntries map[string]hostthread.Task

// Device is a fully wired PANDO machine: one Core per (pxn,pod,core)
// coordinate plus the banked memory controllers backing it. DRAM, L2SP,
// and L1SP are all memif.Bank instances — a single bank type serving
// memif's own Req/Rsp wire protocol at every level of the hierarchy,
// rather than mixing in akita's idealmemcontroller (which speaks its own
// generic mem.ReadReq/WriteReq protocol and so can never service a memif
// request in the first place).
type Device struct {
	Cores  []*Core
	DRAM   []*memif.Bank
	L2SP   []*memif.Bank
	L1SP   []*memif.Bank
	Router *memif.Router
	Engine sim.Engine
}

// DeviceBuilder assembles a Device from a config.SysConfig, the fabric
// counterpart of sarchlab-zeonica/config.DeviceBuilder's
// createTiles/connectTiles/createSharedMemory pipeline — generalized from
// a 2-D mesh of uniform CGRA tiles to a 3-level PXN/Pod/Core hierarchy
// whose memory is banked per level instead of shared per mesh tile. Like
// the teacher's shared-memory mode, every core in the same group (here: a
// Pod for L2SP, a PXN for DRAM) shares one directconnection instance
// rather than getting its own point-to-point link.
type DeviceBuilder struct {
	engine  sim.Engine
	freq    sim.Freq
	monitor *monitoring.Monitor
	cfg     *config.SysConfig
	native  NativeEntries
}

// NewDeviceBuilder starts a DeviceBuilder for the given engine/topology.
func NewDeviceBuilder(engine sim.Engine, freq sim.Freq, cfg *config.SysConfig) DeviceBuilder {
	return DeviceBuilder{engine: engine, freq: freq, cfg: cfg}
}

// WithMonitor attaches a monitoring.Monitor; every Core and memory
// controller built afterwards registers with it, the same opt-in style as
// the teacher's WithMonitor.
func (b DeviceBuilder) WithMonitor(monitor *monitoring.Monitor) DeviceBuilder {
	b.monitor = monitor
	return b
}

// WithNativeEntries registers the Go functions HartNative harts may name
// as their Entry.
func (b DeviceBuilder) WithNativeEntries(entries NativeEntries) DeviceBuilder {
	b.native = entries
	return b
}

// Build assembles the full topology: one DRAM bank per PXN, one L2SP bank
// per Pod, one L1SP bank per Core, a Core per (pxn,pod,core) coordinate
// with its configured harts attached, and a Router wiring every hart's
// absolute-address space to the bank that owns it.
func (b DeviceBuilder) Build(name string) (*Device, error) {
	t := b.cfg.Topology
	router := memif.NewRouter()

	dev := &Device{Router: router, Engine: b.engine}

	// Every core's CtrlPort shares one global connection: a reset or
	// console write can target any core in the machine, not just ones in
	// the same pod/PXN, the same way the original's MMIO console range is
	// reachable from any hart regardless of its own coordinates.
	ctrlConn := directconnection.MakeBuilder().
		WithEngine(b.engine).WithFreq(b.freq).
		Build(name + ".CtrlConn")

	for pxn := 0; pxn < t.NumPXN; pxn++ {
		dram := memif.NewBank(fmt.Sprintf("%s.PXN[%d].DRAM", name, pxn),
			b.engine, b.freq, uint64(t.DRAMBytes), t.Timing.DRAMLatency)
		if b.monitor != nil {
			b.monitor.RegisterComponent(dram)
		}
		dev.DRAM = append(dev.DRAM, dram)
		router.RegisterDRAM(pxn, dram.Port.AsRemote(), dram)

		dramConn := directconnection.MakeBuilder().
			WithEngine(b.engine).WithFreq(b.freq).
			Build(fmt.Sprintf("%s.PXN[%d].DRAMConn", name, pxn))
		dramConn.PlugIn(dram.Port)

		for pod := 0; pod < t.PodsPerPXN; pod++ {
			l2sp := memif.NewBank(fmt.Sprintf("%s.PXN[%d].Pod[%d].L2SP", name, pxn, pod),
				b.engine, b.freq, uint64(t.L2SPBytes), t.Timing.L2SPLatency)
			if b.monitor != nil {
				b.monitor.RegisterComponent(l2sp)
			}
			dev.L2SP = append(dev.L2SP, l2sp)
			router.RegisterL2SP(pxn, pod, l2sp.Port.AsRemote(), l2sp)

			l2Conn := directconnection.MakeBuilder().
				WithEngine(b.engine).WithFreq(b.freq).
				Build(fmt.Sprintf("%s.PXN[%d].Pod[%d].L2SPConn", name, pxn, pod))
			l2Conn.PlugIn(l2sp.Port)

			for core := 0; core < t.CoresPerPod; core++ {
				coreName := fmt.Sprintf("%s.PXN[%d].Pod[%d].Core[%d]", name, pxn, pod, core)

				l1sp := memif.NewBank(coreName+".L1SP", b.engine, b.freq, uint64(t.L1SPBytes), t.Timing.L1SPLatency)
				if b.monitor != nil {
					b.monitor.RegisterComponent(l1sp)
				}
				dev.L1SP = append(dev.L1SP, l1sp)
				router.RegisterL1SP(pxn, pod, core, l1sp.Port.AsRemote(), l1sp)

				codec := addr.NewCodec(pxn, pod, core, t.NumPXN, t.PodsPerPXN, t.CoresPerPod)
				pid := pxn*t.PodsPerPXN*t.CoresPerPod + pod*t.CoresPerPod + core

				cfg, ok := b.cfg.CoreFor(pxn, pod, core)

				c := NewCore(coreName, b.engine, b.freq, codec, router, pid, cfg.MaxIdleCycles, cfg.StartInReset)
				if b.monitor != nil {
					b.monitor.RegisterComponent(c)
				}

				l1Conn := directconnection.MakeBuilder().
					WithEngine(b.engine).WithFreq(b.freq).
					Build(coreName + ".L1SPConn")
				l1Conn.PlugIn(c.MemPort)
				l1Conn.PlugIn(l1sp.Port)

				l2Conn.PlugIn(c.MemPort)
				dramConn.PlugIn(c.MemPort)

				router.RegisterCoreCtrl(pxn, pod, core, c.CtrlPort.AsRemote())
				ctrlConn.PlugIn(c.MemPort)
				ctrlConn.PlugIn(c.CtrlPort)

				if ok {
					if err := b.attachHarts(c, cfg, l1sp, t, pxn, pod, core, pid); err != nil {
						return nil, err
					}
				}

				dev.Cores = append(dev.Cores, c)
			}
		}
	}

	return dev, nil
}

// attachHarts builds and adds every hart a core's configuration names,
// loading an ELF image per RISC-V hart and wiring its icache straight to
// that image (fetches never touch simulated L1SP, matching the original's
// separation of instruction fetch from the data memory hierarchy).
func (b DeviceBuilder) attachHarts(c *Core, cfg config.CoreConfig, l1sp *memif.Bank, t config.Topology, pxn, pod, core, pid int) error {
	for i, hc := range cfg.Harts {
		switch hc.Kind {
		case config.HartRISCV:
			img, err := elfimage.LoadFile(hc.Executable)
			if err != nil {
				return fmt.Errorf("fabric: %s: %w", c.name, err)
			}
			if err := img.WriteTo(l1sp, 4096); err != nil {
				return fmt.Errorf("fabric: %s: %w", c.name, err)
			}

			cache := icache.New(img, 64, 64, 4)
			regs := &riscv.Regs{}
			bridge := syscall.NewBridge()

			env := riscv.CSREnv{
				HartID:    uint64(pid*t.HartsPerCore + i),
				CoreID:    uint64(core),
				PodID:     uint64(pod),
				PXNID:     uint64(pxn),
				CoreHarts: uint64(t.HartsPerCore),
				PodCores:  uint64(t.CoresPerPod),
				PXNPods:   uint64(t.PodsPerPXN),
				NumPXN:    uint64(t.NumPXN),
				L1SPBytes: uint64(t.L1SPBytes),
				L2SPBytes: uint64(t.L2SPBytes),
				DRAMBytes: uint64(t.DRAMBytes),
			}

			task := riscv.NewTask(cache, regs, img.Entry, env,
				func(api hostthread.MemAPI, regs *riscv.Regs) (bool, int) {
					return bridge.Handle(api, regs)
				},
				c.counters.AddInstruction,
			)
			c.AddHart(task)

		case config.HartNative:
			task, ok := b.native[hc.Entry]
			if !ok {
				return fmt.Errorf("fabric: %s: no native entry registered for %q", c.name, hc.Entry)
			}
			c.AddHart(task)

		default:
			return fmt.Errorf("fabric: %s: unknown hart kind %q", c.name, hc.Kind)
		}
	}

	return nil
}
