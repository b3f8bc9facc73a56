// Package config describes a PANDO machine's topology and the per-core
// program manifest used to populate it, and loads both from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HartKind selects which of the two hosting modes a hardware thread runs
// under.
type HartKind string

const (
	// HartNative hosts a goroutine-based coroutine hart trapped through
	// the memory-access API.
	HartNative HartKind = "native"
	// HartRISCV hosts an RV64IM guest hart, interpreted instruction by
	// instruction.
	HartRISCV HartKind = "riscv"
)

// MemoryTiming holds the latency, in cycles, charged for a request that
// reaches a given memory class.
type MemoryTiming struct {
	L1SPLatency int `yaml:"l1sp_latency"`
	L2SPLatency int `yaml:"l2sp_latency"`
	DRAMLatency int `yaml:"dram_latency"`
}

// Topology is the immutable shape of a PANDO machine: how many PXNs it
// has, how many Pods per PXN, how many Cores per Pod, and how many
// hardware threads per Core.
//
// Field widths for the address codec are derived from these counts, not
// hardcoded, the way the teacher's DeviceBuilder derives mesh dimensions
// from WithWidth/WithHeight rather than baking in a fixed grid size.
type Topology struct {
	NumPXN        int `yaml:"num_pxn"`
	PodsPerPXN    int `yaml:"pods_per_pxn"`
	CoresPerPod   int `yaml:"cores_per_pod"`
	HartsPerCore  int `yaml:"harts_per_core"`

	L1SPBytes int64 `yaml:"l1sp_bytes"`
	L2SPBytes int64 `yaml:"l2sp_bytes"`
	DRAMBytes int64 `yaml:"dram_bytes"`

	Timing MemoryTiming `yaml:"timing"`
}

// HartConfig describes one hardware thread's boot configuration.
type HartConfig struct {
	Kind HartKind `yaml:"kind"`

	// Executable is an ELF64 path for HartRISCV harts; ignored for
	// HartNative harts, which instead run the Go function registered
	// under Entry.
	Executable string   `yaml:"executable,omitempty"`
	Argv       []string `yaml:"argv,omitempty"`

	// Entry names a registered native task for HartNative harts.
	Entry string `yaml:"entry,omitempty"`
}

// CoreConfig describes one core's coordinates and the harts it boots.
type CoreConfig struct {
	PXN, Pod, Core int          `yaml:"-"`
	Harts          []HartConfig `yaml:"harts"`

	// MaxIdleCycles bounds how many consecutive cycles this core may find
	// no hart runnable before its clock gates off; 0 disables
	// power-gating, so the core keeps ticking until every hart has
	// terminated.
	MaxIdleCycles int `yaml:"max_idle_cycles"`

	// StartInReset holds every hart on this core out of the schedule
	// until another core releases it with a CtrlReset write of 0.
	StartInReset bool `yaml:"start_in_reset"`
}

// SysConfig is the full manifest consumed by cmd/pando-sim: a topology
// plus the hart program assigned to each core.
type SysConfig struct {
	Topology Topology              `yaml:"topology"`
	Cores    map[string]CoreConfig `yaml:"cores"`

	// Default is applied to any (pxn,pod,core) coordinate not present in
	// Cores, so small test manifests don't need to enumerate every core.
	Default *CoreConfig `yaml:"default,omitempty"`
}

// Load reads and validates a SysConfig from a YAML manifest.
func Load(path string) (*SysConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg SysConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks that the topology is well-formed and that every core
// referenced by name actually falls within it.
func (c *SysConfig) Validate() error {
	t := c.Topology
	if t.NumPXN <= 0 || t.PodsPerPXN <= 0 || t.CoresPerPod <= 0 || t.HartsPerCore <= 0 {
		return fmt.Errorf("topology counts must be positive: %+v", t)
	}

	for key := range c.Cores {
		pxn, pod, core, err := ParseCoreKey(key)
		if err != nil {
			return err
		}
		if pxn < 0 || pxn >= t.NumPXN || pod < 0 || pod >= t.PodsPerPXN || core < 0 || core >= t.CoresPerPod {
			return fmt.Errorf("core %q out of range for topology %+v", key, t)
		}
	}

	return nil
}

// CoreKey formats a core's coordinates the way SysConfig.Cores keys them.
func CoreKey(pxn, pod, core int) string {
	return fmt.Sprintf("%d.%d.%d", pxn, pod, core)
}

// ParseCoreKey parses the inverse of CoreKey.
func ParseCoreKey(key string) (pxn, pod, core int, err error) {
	_, err = fmt.Sscanf(key, "%d.%d.%d", &pxn, &pod, &core)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed core key %q: %w", key, err)
	}
	return pxn, pod, core, nil
}

// CoreFor returns the configuration for the named core, falling back to
// Default when no entry is present.
func (c *SysConfig) CoreFor(pxn, pod, core int) (CoreConfig, bool) {
	key := CoreKey(pxn, pod, core)
	if cfg, ok := c.Cores[key]; ok {
		cfg.PXN, cfg.Pod, cfg.Core = pxn, pod, core
		return cfg, true
	}
	if c.Default != nil {
		cfg := *c.Default
		cfg.PXN, cfg.Pod, cfg.Core = pxn, pod, core
		return cfg, true
	}
	return CoreConfig{}, false
}
