package addr_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pando/addr"
)

// topologies is a small spread of PXN/Pod/Core/offset shapes, including the
// degenerate 1x1x1 case and an irregular one whose counts aren't powers of
// two, so the derived bit-field widths aren't accidentally aligned to
// anything convenient.
var topologies = []struct {
	numPXN, podsPerPXN, coresPerPod int
}{
	{1, 1, 1},
	{2, 2, 2},
	{3, 5, 7},
	{4, 1, 16},
}

var _ = Describe("Address codec round trip", func() {
	for _, topo := range topologies {
		topo := topo

		Context("topology", func() {
			codec := addr.NewCodec(0, 0, 0, topo.numPXN, topo.podsPerPXN, topo.coresPerPod)

			for _, class := range []addr.Class{addr.L1SP, addr.L2SP, addr.DRAM, addr.CoreCtrl} {
				class := class

				It("decodes what it encodes for every coordinate and offset", func() {
					for pxn := 0; pxn < topo.numPXN; pxn++ {
						for pod := 0; pod < topo.podsPerPXN; pod++ {
							for core := 0; core < topo.coresPerPod; core++ {
								for _, offset := range []uint64{0, 1, 0x10, 0xff} {
									info := addr.Info{
										Absolute: true,
										Class:    class,
										PXN:      pxn,
										Pod:      pod,
										Core:     core,
										Offset:   offset,
									}

									got := codec.Decode(codec.Encode(info))

									switch class {
									case addr.DRAM:
										Expect(got.PXN).To(Equal(info.PXN))
									case addr.L2SP:
										Expect(got.PXN).To(Equal(info.PXN))
										Expect(got.Pod).To(Equal(info.Pod))
									default:
										Expect(got.PXN).To(Equal(info.PXN))
										Expect(got.Pod).To(Equal(info.Pod))
										Expect(got.Core).To(Equal(info.Core))
									}

									Expect(got.Class).To(Equal(info.Class))
									Expect(got.Absolute).To(BeTrue())
									Expect(got.Offset).To(Equal(info.Offset))
								}
							}
						}
					}
				})
			}
		})
	}
})

var _ = Describe("Codec.ToAbsolute", func() {
	It("is idempotent for every absolute address", func() {
		codec := addr.NewCodec(1, 2, 3, 4, 4, 4)
		a := codec.AbsoluteCoreCtrl(1, 2, 3, addr.CtrlPrintHex)

		once := codec.ToAbsolute(a)
		twice := codec.ToAbsolute(once)
		Expect(twice).To(Equal(once))
	})

	It("resolves a relative address to this codec's own coordinates", func() {
		codec := addr.NewCodec(2, 1, 0, 4, 4, 4)
		rel := codec.Encode(addr.Info{Class: addr.L2SP, Offset: 0x40})

		abs := codec.ToAbsolute(rel)
		info := codec.Decode(abs)

		Expect(info.Absolute).To(BeTrue())
		Expect(info.PXN).To(Equal(2))
		Expect(info.Pod).To(Equal(1))
		Expect(info.Offset).To(Equal(uint64(0x40)))
	})
})

var _ = Describe("Relative address offsets", func() {
	It("preserve the offset under to_absolute_from, regardless of the resolving hart", func() {
		for _, class := range []addr.Class{addr.L1SP, addr.L2SP, addr.DRAM} {
			rel := addr.NewCodec(0, 0, 0, 4, 4, 4).Encode(addr.Info{Class: class, Offset: 0x123})
			wantOffset := addr.NewCodec(0, 0, 0, 4, 4, 4).Decode(rel).Offset

			for _, hart := range []struct{ pxn, pod, core int }{
				{0, 0, 0}, {1, 2, 3}, {3, 3, 3},
			} {
				resolver := addr.NewCodec(hart.pxn, hart.pod, hart.core, 4, 4, 4)
				abs := resolver.ToAbsolute(rel)
				Expect(resolver.Decode(abs).Offset).To(Equal(wantOffset))
			}
		}
	})
})
