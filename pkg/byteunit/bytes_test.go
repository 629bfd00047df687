package byteunit

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKB_Humanized_Boundaries(t *testing.T) {
	cases := []struct {
		in   KB
		want string
	}{
		{KB(0), "0 KB"},
		{KB(1), "1 KB"},
		{KB(1023), "1023 KB"},                 // just below 1 MiB
		{KB(1024), "1.00 MB"},                 // exactly 1 MiB
		{KB(1024*1024 - 1), "1024.00 MB"},     // just below 1 GiB
		{KB(1024 * 1024), "1.00 GB"},          // exactly 1 GiB
		{KB(1024*1024*1024 - 1), "1024.00 GB"}, // just below 1 TiB
		{KB(1024 * 1024 * 1024), "1.00 TB"},   // exactly 1 TiB
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%d_%d", i, uint64(tc.in)), func(t *testing.T) {
			got := tc.in.Humanized()
			require.Equal(t, tc.want, got)
		})
	}
}

func TestKB_Humanized_NonRound(t *testing.T) {
	// 1536 KB = 1.50 MB
	assert.Equal(t, "1.50 MB", KB(1536).Humanized())

	b := KB(uint64(math.Round(12.345 * float64(1<<20))))
	assert.Equal(t, "12.35 GB", b.Humanized())
}

func TestKB_UnitAccessors(t *testing.T) {
	assert.InDelta(t, 1.0, KB(1024).MB(), 1e-12)
	assert.InDelta(t, 1.0, KB(1<<20).GB(), 1e-12)

	b := KB(1536) // 1.5 MB
	assert.InDelta(t, 1.5, b.MB(), 1e-12)
}

func TestFromBytes(t *testing.T) {
	assert.Equal(t, KB(0), FromBytes(1023))
	assert.Equal(t, KB(1), FromBytes(1024))
	assert.Equal(t, KB(10), FromBytes(10*1024+500))
	assert.Equal(t, uint64(10*1024), FromBytes(10*1024).Bytes())
}

func TestKB_Humanized_TinyValues(t *testing.T) {
	for _, v := range []uint64{2, 10, 255, 512, 1023} {
		want := fmt.Sprintf("%d KB", v)
		assert.Equal(t, want, KB(v).Humanized())
	}
}
