package histogram

import "github.com/Sumatoshi-tech/tagvol/pkg/timetag"

// Measurement is the capability set a driver scheduler needs from a live
// measurement. OnBatch and Reset are never called concurrently with each
// other; Stop must return before the measurement is discarded.
type Measurement interface {
	timetag.BatchHandler

	Reset() error
	Snapshot() []uint64
	Index() []int64
	Stop() error
}
