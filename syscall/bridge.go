// Package syscall bridges a guest RISC-V ECALL to the host OS: the seven
// syscalls PANDO guest programs use (exit, brk, write, read, open, fstat,
// close), each translated through chunked Read/Write memory requests
// instead of a direct host pointer, following the chunking of the
// original simulator's sysWRITE/sysREAD/sysOPEN/sysFSTAT handlers. Each
// chunk blocks the hart until it completes, so no completion callback is
// needed.
package syscall

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/sarchlab/pando/hostthread"
)

// Syscall numbers, matching the RISC-V Linux ABI subset this bridge
// implements.
const (
	SysExit  = 93
	SysBrk   = 214
	SysWrite = 64
	SysRead  = 63
	SysOpen  = 1024
	SysFstat = 80
	SysClose = 57
)

// ChunkSize bounds how many bytes cross the trapped memory API in one
// Read/Write call, mirroring the original's per-request buffer chunking
// (there the chunk size is the core's configured max request size).
const ChunkSize = 64

// Bridge dispatches ECALLs for one hart. It carries no per-hart state, so
// a single Bridge is safe to share across harts as long as each call
// passes that hart's own regs/api.
type Bridge struct{}

// NewBridge creates a Bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Regs is the minimal register-file surface the bridge needs: argument
// registers a0..a7 and a return-value slot (also a0).
type Regs interface {
	A(i uint32) uint64
	SetA(i uint32, value uint64)
}

// Handle dispatches one ECALL, reading the syscall number from a7 and
// arguments from a0..a5, and returns (exit, code) to tell the hart
// whether this call requests termination.
func (b *Bridge) Handle(api hostthread.MemAPI, regs Regs) (exit bool, code int) {
	switch regs.A(7) {
	case SysExit:
		return true, int(int64(regs.A(0)))

	case SysBrk:
		sysBrk(regs)

	case SysWrite:
		b.sysWrite(api, regs)

	case SysRead:
		b.sysRead(api, regs)

	case SysOpen:
		b.sysOpen(api, regs)

	case SysFstat:
		b.sysFstat(api, regs)

	case SysClose:
		b.sysClose(regs)

	default:
		regs.SetA(0, negErrno(fmt.Errorf("syscall: unknown number %d", regs.A(7))))
	}

	return false, 0
}

// sysBrk never grows the break: PANDO guest programs use a fixed
// static heap in L1SP/L2SP/DRAM, not a movable brk, so this always
// reports failure the way a kernel with no brk support would.
func sysBrk(regs Regs) {
	regs.SetA(0, ^uint64(0))
}

func (b *Bridge) sysWrite(api hostthread.MemAPI, regs Regs) {
	fd := int(int64(regs.A(0)))
	buf := regs.A(1)
	length := regs.A(2)

	data := readGuestBuffer(api, buf, length)

	f := fdFile(fd)
	if f == nil {
		regs.SetA(0, negErrno(fmt.Errorf("syscall: bad fd %d", fd)))
		return
	}

	n, err := f.Write(data)
	if err != nil {
		regs.SetA(0, negErrno(err))
		return
	}
	regs.SetA(0, uint64(n))
}

func (b *Bridge) sysRead(api hostthread.MemAPI, regs Regs) {
	fd := int(int64(regs.A(0)))
	buf := regs.A(1)
	length := regs.A(2)

	f := fdFile(fd)
	if f == nil {
		regs.SetA(0, negErrno(fmt.Errorf("syscall: bad fd %d", fd)))
		return
	}

	data := make([]byte, length)
	n, err := f.Read(data)
	if err != nil && n == 0 {
		regs.SetA(0, negErrno(err))
		return
	}

	writeGuestBuffer(api, buf, data[:n])
	regs.SetA(0, uint64(n))
}

func (b *Bridge) sysOpen(api hostthread.MemAPI, regs Regs) {
	pathAddr := regs.A(0)
	flags := translateOpenFlags(regs.A(1))
	mode := os.FileMode(regs.A(2) & 0o777)

	path := readGuestCString(api, pathAddr)

	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		regs.SetA(0, negErrno(err))
		return
	}

	regs.SetA(0, uint64(registerFile(f)))
}

func (b *Bridge) sysFstat(api hostthread.MemAPI, regs Regs) {
	fd := int(int64(regs.A(0)))
	statBuf := regs.A(1)

	f := fdFile(fd)
	if f == nil {
		regs.SetA(0, negErrno(fmt.Errorf("syscall: bad fd %d", fd)))
		return
	}

	info, err := f.Stat()
	if err != nil {
		regs.SetA(0, negErrno(err))
		return
	}

	writeGuestBuffer(api, statBuf, encodeStat(info))
	regs.SetA(0, 0)
}

func (b *Bridge) sysClose(regs Regs) {
	fd := int(int64(regs.A(0)))
	if fd <= 2 {
		// stdio is protected, same as the original's fd 0/1/2 guard.
		regs.SetA(0, 0)
		return
	}

	if err := closeFile(fd); err != nil {
		regs.SetA(0, negErrno(err))
		return
	}
	regs.SetA(0, 0)
}

// readGuestBuffer pulls length bytes out of guest memory starting at
// addr, one ChunkSize-sized Read at a time, following sysReadBuffer's
// chunking.
func readGuestBuffer(api hostthread.MemAPI, addr, length uint64) []byte {
	out := make([]byte, 0, length)
	for remaining := length; remaining > 0; {
		n := ChunkSize
		if uint64(n) > remaining {
			n = int(remaining)
		}
		out = append(out, api.Read(addr, n)...)
		addr += uint64(n)
		remaining -= uint64(n)
	}
	return out
}

// writeGuestBuffer is readGuestBuffer's write-side counterpart, following
// sysWriteBuffer's chunking.
func writeGuestBuffer(api hostthread.MemAPI, addr uint64, data []byte) {
	for len(data) > 0 {
		n := ChunkSize
		if n > len(data) {
			n = len(data)
		}
		api.Write(addr, data[:n])
		addr += uint64(n)
		data = data[n:]
	}
}

func readGuestCString(api hostthread.MemAPI, addr uint64) string {
	var out []byte
	for {
		chunk := api.Read(addr, ChunkSize)
		if i := indexZero(chunk); i >= 0 {
			out = append(out, chunk[:i]...)
			break
		}
		out = append(out, chunk...)
		addr += uint64(len(chunk))
	}
	return string(out)
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// negErrno reports err and returns the guest-visible -1 return value;
// this bridge doesn't translate host errors into precise guest errno
// values, just the fact that the call failed.
func negErrno(err error) uint64 {
	slog.Warn("syscall failed", "error", err)
	return ^uint64(0)
}

func encodeStat(info os.FileInfo) []byte {
	buf := make([]byte, 128)
	binary.LittleEndian.PutUint64(buf[48:], uint64(info.Size()))
	binary.LittleEndian.PutUint32(buf[24:], uint32(info.Mode()))
	return buf
}
