package riscv

// CSREnv is the fixed machine-identity information a guest program reads
// through the read-only CSRs, one CSREnv per hart, built once from the
// topology it boots into.
type CSREnv struct {
	HartID    uint64
	CoreID    uint64
	PodID     uint64
	PXNID     uint64
	CoreHarts uint64
	PodCores  uint64
	PXNPods   uint64
	NumPXN    uint64
	L1SPBytes uint64
	L2SPBytes uint64
	DRAMBytes uint64
}

// Machine CSR numbers. mhartid is the standard RISC-V privileged CSR;
// MCOREID through MPXNDRAMSIZE follow the pandohammer platform header's
// MCSR_* numbering. MCOREL1SPSIZE/MPODL2SPSIZE/MPXNDRAMSIZE are referenced
// there only by name with no numeric value ever given in any available
// header, so this assigns them by extending that header's own sequential
// numbering one step further.
const (
	csrMHARTID       = 0xF14
	csrMCOREID       = 0xF15
	csrMPODID        = 0xF16
	csrMPXNID        = 0xF17
	csrMCOREHARTS    = 0xF18
	csrMPODCORES     = 0xF19
	csrMPXNPODS      = 0xF1A
	csrMNUMPXN       = 0xF1B
	csrMCOREL1SPSIZE = 0xF1C
	csrMPODL2SPSIZE  = 0xF1D
	csrMPXNDRAMSIZE  = 0xF1E

	// csrSleep is the writable sleep-CSR: writing N parks the hart for N
	// cycles, the CSR-level counterpart of hartsleep(cycles) in the
	// pandohammer runtime header.
	csrSleep = 0x7A5
)

// read answers one CSR's current value, reporting false for any CSR this
// machine doesn't implement.
func (e CSREnv) read(csr uint32) (uint64, bool) {
	switch csr {
	case csrMHARTID:
		return e.HartID, true
	case csrMCOREID:
		return e.CoreID, true
	case csrMPODID:
		return e.PodID, true
	case csrMPXNID:
		return e.PXNID, true
	case csrMCOREHARTS:
		return e.CoreHarts, true
	case csrMPODCORES:
		return e.PodCores, true
	case csrMPXNPODS:
		return e.PXNPods, true
	case csrMNUMPXN:
		return e.NumPXN, true
	case csrMCOREL1SPSIZE:
		return e.L1SPBytes, true
	case csrMPODL2SPSIZE:
		return e.L2SPBytes, true
	case csrMPXNDRAMSIZE:
		return e.DRAMBytes, true
	case csrSleep:
		return 0, true
	}
	return 0, false
}
