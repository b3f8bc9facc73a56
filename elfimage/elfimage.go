// Package elfimage loads a RV64 ELF executable's loadable segments into
// simulated physical memory and serves instruction fetches straight out of
// the loaded image, the same loading job
// sarchlab-zeonica/core.LoadProgramFileFromYAML does for CGRA instruction
// lists — except the source format here is a real RV64 ELF binary, parsed
// with the standard library's debug/elf rather than YAML.
package elfimage

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

// Segment is one PT_LOAD program header's bytes, already zero-extended out
// to Memsz (so .bss is represented as trailing zero bytes rather than a
// separate fixup step).
type Segment struct {
	Vaddr uint64
	Data  []byte
}

// Image is a loaded ELF executable: its entry point and loadable segments,
// held in host memory until WriteTo copies them into a simulated backing
// store.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Writer is the subset of memif.Bank's direct-access surface elfimage needs
// to populate simulated physical memory; it bypasses the timed
// request/response protocol, matching how a real loader's DMA into
// physical memory precedes any hart even existing to issue timed requests.
type Writer interface {
	DirectWrite(address uint64, value []byte) error
}

// Load parses an RV64 ELF executable from r and returns its loaded image.
// Only PT_LOAD segments are kept; sections such as .symtab/.debug_* are
// ignored since nothing in this simulator interprets them.
func Load(r io.ReaderAt) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("elfimage: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("elfimage: not a 64-bit ELF (class %s)", f.Class)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("elfimage: not a RISC-V ELF (machine %s)", f.Machine)
	}

	img := &Image{Entry: f.Entry}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, prog.Memsz)
		n, err := prog.ReadAt(data[:prog.Filesz], 0)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("elfimage: reading segment at %#x: %w", prog.Vaddr, err)
		}
		if uint64(n) != prog.Filesz {
			return nil, fmt.Errorf("elfimage: short read for segment at %#x: got %d want %d", prog.Vaddr, n, prog.Filesz)
		}

		img.Segments = append(img.Segments, Segment{Vaddr: prog.Vaddr, Data: data})
	}

	sort.Slice(img.Segments, func(i, j int) bool {
		return img.Segments[i].Vaddr < img.Segments[j].Vaddr
	})

	return img, nil
}

// WriteTo copies every loaded segment into w at its virtual address,
// chunking large segments so no single DirectWrite call exceeds
// chunkBytes (mirroring the chunked guest-buffer transfers the syscall
// bridge performs for the same reason: bounding one call's blast radius).
func (img *Image) WriteTo(w Writer, chunkBytes int) error {
	if chunkBytes <= 0 {
		chunkBytes = 4096
	}

	for _, seg := range img.Segments {
		addr := seg.Vaddr
		data := seg.Data
		for len(data) > 0 {
			n := chunkBytes
			if n > len(data) {
				n = len(data)
			}
			if err := w.DirectWrite(addr, data[:n]); err != nil {
				return fmt.Errorf("elfimage: writing segment at %#x: %w", addr, err)
			}
			addr += uint64(n)
			data = data[n:]
		}
	}

	return nil
}

// ReadInstructionLine implements riscv/icache.Backing, serving a
// lineBytes-sized instruction fetch straight out of the loaded segments
// without going through simulated memory at all — the image is the
// ground truth for code, and the icache's job is purely to model fetch
// latency/hit-rate on top of it.
func (img *Image) ReadInstructionLine(address uint64, line []byte) {
	for i := range line {
		line[i] = 0
	}

	for _, seg := range img.Segments {
		end := seg.Vaddr + uint64(len(seg.Data))
		if address >= end || address+uint64(len(line)) <= seg.Vaddr {
			continue
		}

		// Overlap of [address, address+len(line)) with [seg.Vaddr, end).
		var segOff, lineOff uint64
		if address >= seg.Vaddr {
			segOff = address - seg.Vaddr
		} else {
			lineOff = seg.Vaddr - address
		}

		copy(line[lineOff:], seg.Data[segOff:])
	}
}

// LoadFile opens path and loads it as an ELF executable, the entry point
// cmd/pando-sim uses for a hart's configured Executable path.
func LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfimage: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// elfHeaderSize and progHeaderSize are the fixed ELF64 header sizes this
// writer targets: e_ehsize and e_phentsize for a 64-bit executable.
const (
	elfHeaderSize  = 64
	progHeaderSize = 56
)

// elfWriter accumulates a byte stream the way the ELF-by-hand writers in
// the pack do: one small-width-at-a-time append, rather than building up
// a debug/elf struct the standard library has no encoder for.
type elfWriter struct {
	buf []byte
}

func (w *elfWriter) u8(v uint8)     { w.buf = append(w.buf, v) }
func (w *elfWriter) u16(v uint16)   { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *elfWriter) u32(v uint32)   { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *elfWriter) u64(v uint64)   { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *elfWriter) bytes(b []byte) { w.buf = append(w.buf, b...) }

// SaveELF writes code out as a minimal, statically-linked RV64 ELF
// executable with a single PT_LOAD segment starting at loadAddr and
// entry at loadAddr: no sections, no dynamic linking, no interpreter,
// just enough of an ELF64 file for Load/LoadFile's own elf.NewFile
// parser to recover one segment of instruction bytes. This is the write
// side of Load's read side, the same static-executable subset the
// pack's hand-rolled ELF writers build up one field at a time before
// layering interpreter/PLT/GOT machinery on top that a test fixture has
// no use for.
func SaveELF(path string, loadAddr uint64, code []byte) error {
	w := &elfWriter{}

	// e_ident
	w.bytes([]byte{0x7f, 'E', 'L', 'F'})
	w.u8(2) // ELFCLASS64
	w.u8(1) // ELFDATA2LSB
	w.u8(1) // EV_CURRENT
	w.u8(0) // ELFOSABI_NONE
	w.bytes(make([]byte, 8))

	w.u16(2)             // e_type: ET_EXEC
	w.u16(243)           // e_machine: EM_RISCV
	w.u32(1)             // e_version
	w.u64(loadAddr)      // e_entry
	w.u64(elfHeaderSize) // e_phoff
	w.u64(0)             // e_shoff
	w.u32(0)             // e_flags
	w.u16(elfHeaderSize)
	w.u16(progHeaderSize)
	w.u16(1) // e_phnum: one PT_LOAD segment
	w.u16(0) // e_shentsize
	w.u16(0) // e_shnum
	w.u16(0) // e_shstrndx

	fileOff := uint64(elfHeaderSize + progHeaderSize)
	w.u32(1)                 // p_type: PT_LOAD
	w.u32(5)                 // p_flags: PF_R | PF_X
	w.u64(fileOff)            // p_offset
	w.u64(loadAddr)           // p_vaddr
	w.u64(loadAddr)           // p_paddr
	w.u64(uint64(len(code)))  // p_filesz
	w.u64(uint64(len(code)))  // p_memsz
	w.u64(4096)               // p_align

	w.bytes(code)

	if err := os.WriteFile(path, w.buf, 0o644); err != nil {
		return fmt.Errorf("elfimage: %w", err)
	}
	return nil
}
