package types

import (
	"fmt"
	"math"
)

const (
	// PageSize is the size of a WebAssembly page in bytes.
	PageSize = 65536
	// MaxPages is the largest page count addressable by a 32-bit memory.
	MaxPages Pages = 65536
	// MinPages is the smallest valid page count.
	MinPages Pages = 0
	// MaxTableElements bounds table sizes.
	MaxTableElements uint32 = math.MaxUint32
)

// Pages is a count of WebAssembly pages.
type Pages uint32

// Bytes is a count of bytes.
type Bytes uint64

// Bytes converts a page count to bytes.
func (p Pages) Bytes() Bytes {
	return Bytes(p) * PageSize
}

// Add returns p+delta, or false when the sum exceeds MaxPages.
func (p Pages) Add(delta Pages) (Pages, bool) {
	sum := uint64(p) + uint64(delta)
	if sum > uint64(MaxPages) {
		return 0, false
	}
	return Pages(sum), true
}

func (p Pages) String() string {
	return fmt.Sprintf("%d pages", uint32(p))
}

// Pages converts bytes to whole pages, rounding down.
func (b Bytes) Pages() Pages {
	n := uint64(b) / PageSize
	if n > uint64(MaxPages) {
		return MaxPages
	}
	return Pages(n)
}

// PagesExact converts bytes to pages and fails when b is not page aligned
// or exceeds the 32-bit address space.
func (b Bytes) PagesExact() (Pages, error) {
	if uint64(b)%PageSize != 0 {
		return 0, fmt.Errorf("%d bytes is not a multiple of the page size", uint64(b))
	}
	n := uint64(b) / PageSize
	if n > uint64(MaxPages) {
		return 0, fmt.Errorf("%d bytes exceeds %d pages", uint64(b), uint32(MaxPages))
	}
	return Pages(n), nil
}
