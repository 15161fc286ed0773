package pointstream

import (
	"math"

	"github.com/Sumatoshi-tech/tagvol/pkg/safeconv"
	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

// Partition selects the rows of a batch that belong to one channel. Rows are
// ascending row indices into the batch.
type Partition struct {
	Channel uint8
	Rows    []int
}

// PartitionByChannel groups the rows of a validated batch by channel value,
// in ascending channel order. Row order within a partition is stream order.
func PartitionByChannel(b *Batch) []Partition {
	var counts [math.MaxUint8 + 1]int
	for _, ch := range b.Channel {
		counts[ch]++
	}

	var slot [math.MaxUint8 + 1]int

	parts := make([]Partition, 0, 4)

	for ch, n := range counts {
		if n == 0 {
			continue
		}

		slot[ch] = len(parts)
		parts = append(parts, Partition{Channel: safeconv.MustUint8(ch), Rows: make([]int, 0, n)})
	}

	for row, ch := range b.Channel {
		p := &parts[slot[ch]]
		p.Rows = append(p.Rows, row)
	}

	return parts
}

// Extract pairs the coordinates of the selected rows with their R intensity.
func Extract(b *Batch, p Partition) []volume.Sample {
	out := make([]volume.Sample, len(p.Rows))

	for i, row := range p.Rows {
		out[i] = volume.Sample{
			Coord: volume.Coord{X: b.X[row], Y: b.Y[row], Z: b.Z[row]},
			Value: float64(b.R[row]),
		}
	}

	return out
}
