// Package packing holds the master-pack packer, the single source of
// truth for every "packs + loose" figure in the system.
package packing

import (
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// Result is the unique packing of a size distribution under a ratio.
type Result struct {
	CompletePacks int
	TotalLoose    int
	LoosePerSize  shared.SizeDist
}

// Pack splits pieces into complete master packs and loose remainder.
//
// A master pack contains ratio[s] pieces of each size s; the number of
// complete packs is limited by the scarcest size. Sizes missing from
// either map count as zero. An empty ratio, or one containing only
// zeros, means no packing rule: everything stays loose.
func Pack(pieces, ratio shared.SizeDist) Result {
	if len(pieces) == 0 || ratio.IsZero() {
		return Result{
			CompletePacks: 0,
			TotalLoose:    pieces.Total(),
			LoosePerSize:  pieces.Clone(),
		}
	}

	packs := -1
	for size, per := range ratio {
		if per <= 0 {
			continue
		}
		n := pieces.Get(size) / per
		if packs < 0 || n < packs {
			packs = n
		}
	}
	if packs < 0 {
		packs = 0
	}

	loose := shared.SizeDist{}
	for _, size := range shared.UnionSizes(pieces, ratio) {
		loose[size] = pieces.Get(size) - packs*ratio.Get(size)
	}
	return Result{
		CompletePacks: packs,
		TotalLoose:    loose.Total(),
		LoosePerSize:  loose,
	}
}

// Explode converts packs + loose back into a per-size distribution.
// Dispatch items use it to turn "2 master packs and {M:5}" into the
// exact counts debited from stock.
func Explode(packs int, ratio, loose shared.SizeDist) shared.SizeDist {
	out := shared.SizeDist{}
	for _, size := range shared.UnionSizes(ratio, loose) {
		out[size] = packs*ratio.Get(size) + loose.Get(size)
	}
	return out.Compact()
}
