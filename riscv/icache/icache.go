// Package icache implements the set-associative, LRU instruction cache
// every RISC-V hart fetches through: a tag/index bitrange split over the
// physical address, with each set's entries ordered most-recently-used
// first, matching the bitrange-indexed Set.find/Set.fetch design of the
// original instruction cache model.
package icache

import "math/bits"

// Backing supplies the cache-line-sized reads a miss falls through to.
// elfimage implements this over a loaded program image.
type Backing interface {
	ReadInstructionLine(address uint64, line []byte)
}

// Line is one fetched instruction-cache line.
type Line struct {
	Tag  uint64
	Data []byte
}

type set struct {
	lines []Line // front = MRU, back = LRU
}

// find moves a hit to the front and returns it; the zero Line and false
// on a miss.
func (s *set) find(tag uint64) (Line, bool) {
	for i, l := range s.lines {
		if l.Tag == tag {
			if i != 0 {
				copy(s.lines[1:i+1], s.lines[0:i])
				s.lines[0] = l
			}
			return l, true
		}
	}
	return Line{}, false
}

// insert places a freshly fetched line at the front, evicting the LRU
// entry (the back of the slice) if the set is full.
func (s *set) insert(l Line, associativity int) {
	if len(s.lines) < associativity {
		s.lines = append([]Line{l}, s.lines...)
		return
	}
	copy(s.lines[1:], s.lines[:len(s.lines)-1])
	s.lines[0] = l
}

// Cache is a direct-mapped or set-associative instruction cache sized by
// total instruction lines and associativity, with tag/index bitranges
// derived from those two numbers the way the original computes
// index_/tag_ from clog2(instructions/associativity).
type Cache struct {
	backing       Backing
	lineBytes     int
	associativity int
	numSets       int

	indexBits uint
	indexLo   uint

	sets []set

	hits, misses int
}

// New builds a Cache holding numLines lines of lineBytes bytes each,
// organized into sets of the given associativity.
func New(backing Backing, numLines, lineBytes, associativity int) *Cache {
	if associativity <= 0 {
		associativity = 1
	}
	numSets := numLines / associativity
	if numSets <= 0 {
		numSets = 1
	}

	c := &Cache{
		backing:       backing,
		lineBytes:     lineBytes,
		associativity: associativity,
		numSets:       numSets,
		indexBits:     uint(bits.Len(uint(numSets - 1))),
		indexLo:       uint(bits.Len(uint(lineBytes - 1))),
		sets:          make([]set, numSets),
	}
	return c
}

func (c *Cache) lineAddr(address uint64) uint64 {
	mask := uint64(c.lineBytes - 1)
	return address &^ mask
}

func (c *Cache) index(lineAddr uint64) uint64 {
	if c.indexBits == 0 {
		return 0
	}
	return (lineAddr >> c.indexLo) & ((1 << c.indexBits) - 1)
}

func (c *Cache) tag(lineAddr uint64) uint64 {
	return lineAddr >> (c.indexLo + c.indexBits)
}

// Read fetches the bytes at address, backed transparently by a cache
// line. It reports whether the access hit, but reads the line from
// backing on every access, hit or miss — exactly as the original cache
// model fetches from backing storage regardless of hit/miss, so a
// caller can rely on Read always returning live data even while the hit
// counter is used only for statistics.
func (c *Cache) Read(address uint64) (data []byte, hit bool) {
	lineAddr := c.lineAddr(address)
	idx := c.index(lineAddr)
	tag := c.tag(lineAddr)

	s := &c.sets[idx]
	if _, ok := s.find(tag); ok {
		c.hits++
		buf := make([]byte, c.lineBytes)
		c.backing.ReadInstructionLine(lineAddr, buf)
		return sliceAt(buf, address, lineAddr), true
	}

	c.misses++
	buf := make([]byte, c.lineBytes)
	c.backing.ReadInstructionLine(lineAddr, buf)
	s.insert(Line{Tag: tag, Data: buf}, c.associativity)

	return sliceAt(buf, address, lineAddr), false
}

func sliceAt(line []byte, address, lineAddr uint64) []byte {
	off := address - lineAddr
	end := off + 4
	if end > uint64(len(line)) {
		end = uint64(len(line))
	}
	return line[off:end]
}

// Stats returns the cumulative hit/miss counts.
func (c *Cache) Stats() (hits, misses int) { return c.hits, c.misses }
