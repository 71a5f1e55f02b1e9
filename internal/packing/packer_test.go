package packing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

func TestPackReferenceScenario(t *testing.T) {
	pieces := shared.SizeDist{"S": 10, "M": 19, "L": 15, "XL": 8}
	ratio := shared.SizeDist{"S": 2, "M": 2, "L": 2, "XL": 2}

	res := Pack(pieces, ratio)
	require.Equal(t, 4, res.CompletePacks)
	require.Equal(t, 20, res.TotalLoose)
	require.Equal(t, shared.SizeDist{"S": 2, "M": 11, "L": 7, "XL": 0}, res.LoosePerSize)
}

func TestPackEmptyRatioAllLoose(t *testing.T) {
	pieces := shared.SizeDist{"S": 3, "M": 4}

	res := Pack(pieces, nil)
	require.Equal(t, 0, res.CompletePacks)
	require.Equal(t, 7, res.TotalLoose)
	require.Equal(t, pieces, res.LoosePerSize)

	res = Pack(pieces, shared.SizeDist{"S": 0, "M": 0})
	require.Equal(t, 0, res.CompletePacks)
	require.Equal(t, 7, res.TotalLoose)
}

func TestPackScarcestSizeZero(t *testing.T) {
	pieces := shared.SizeDist{"S": 10, "M": 0}
	ratio := shared.SizeDist{"S": 2, "M": 2}

	res := Pack(pieces, ratio)
	require.Equal(t, 0, res.CompletePacks)
	require.Equal(t, 10, res.TotalLoose)
}

func TestPackRatioSizeMissingFromPieces(t *testing.T) {
	pieces := shared.SizeDist{"M": 6}
	ratio := shared.SizeDist{"M": 2, "XXL": 1}

	res := Pack(pieces, ratio)
	require.Equal(t, 0, res.CompletePacks)
	require.Equal(t, 6, res.TotalLoose)
}

// packs × ratio[s] + loose[s] == pieces[s] for every size, and packing
// the loose remainder again changes nothing.
func TestPackConservationProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sizes := []string{"S", "M", "L", "XL", "XXL"}

	for i := 0; i < 500; i++ {
		pieces := shared.SizeDist{}
		ratio := shared.SizeDist{}
		for _, s := range sizes {
			if rng.Intn(4) > 0 {
				pieces[s] = rng.Intn(40)
			}
			if rng.Intn(4) > 0 {
				ratio[s] = rng.Intn(5)
			}
		}

		res := Pack(pieces, ratio)
		for _, s := range shared.UnionSizes(pieces, ratio) {
			require.Equal(t, pieces.Get(s), res.CompletePacks*ratio.Get(s)+res.LoosePerSize.Get(s),
				"size %s pieces=%v ratio=%v", s, pieces, ratio)
			require.GreaterOrEqual(t, res.LoosePerSize.Get(s), 0)
		}
		require.Equal(t, res.LoosePerSize.Total(), res.TotalLoose)

		again := Pack(res.LoosePerSize, ratio)
		if !ratio.IsZero() {
			require.Equal(t, 0, again.CompletePacks, "repacking loose must yield no packs")
		}
		require.Equal(t, res.TotalLoose, again.TotalLoose)
	}
}

func TestExplodeRoundTrip(t *testing.T) {
	ratio := shared.SizeDist{"S": 2, "M": 2, "L": 2}
	loose := shared.SizeDist{"M": 5, "L": 3}

	dist := Explode(2, ratio, loose)
	require.Equal(t, shared.SizeDist{"S": 4, "M": 9, "L": 7}, dist)

	res := Pack(dist, ratio)
	require.Equal(t, 2, res.CompletePacks)
	require.Equal(t, loose.Compact(), res.LoosePerSize.Compact())
}
