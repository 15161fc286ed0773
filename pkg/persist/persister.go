package persist

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

// VolumeRecord is the on-disk form of a volume. Entries are sorted by
// coordinate so output is reproducible.
type VolumeRecord struct {
	Channel uint8        `json:"channel"`
	Shape   volume.Shape `json:"shape"`
	Entries []Entry      `json:"entries"`
}

// Entry is one stored voxel.
type Entry struct {
	Coord volume.Coord `json:"coord"`
	Value float64      `json:"value"`
}

// RecordOf converts a volume to its on-disk form.
func RecordOf(v *volume.Volume) *VolumeRecord {
	coords := v.Coords()
	rec := &VolumeRecord{
		Channel: v.Channel(),
		Shape:   v.Shape(),
		Entries: make([]Entry, len(coords)),
	}

	for i, c := range coords {
		rec.Entries[i] = Entry{Coord: c, Value: v.At(c)}
	}

	return rec
}

// ErrDuplicateEntry is returned when a record stores a coordinate twice.
var ErrDuplicateEntry = errors.New("duplicate volume entry")

// Volume rebuilds the volume, rejecting out-of-bounds and repeated entries.
func (r *VolumeRecord) Volume() (*volume.Volume, error) {
	values := make(map[volume.Coord]float64, len(r.Entries))
	for i, e := range r.Entries {
		if _, dup := values[e.Coord]; dup {
			return nil, fmt.Errorf("%w: channel %d entry %d: %s", ErrDuplicateEntry, r.Channel, i, e.Coord)
		}

		values[e.Coord] = e.Value
	}

	return volume.New(r.Channel, r.Shape, values)
}

// Persister handles I/O for a specific state type using a Codec.
type Persister[T any] struct {
	basename string
	codec    Codec
}

// NewPersister creates a persister with the given basename and codec.
func NewPersister[T any](basename string, codec Codec) *Persister[T] {
	return &Persister[T]{
		basename: basename,
		codec:    codec,
	}
}

// Path returns the file the persister reads and writes in dir.
func (p *Persister[T]) Path(dir string) string {
	return filepath.Join(dir, p.basename+p.codec.Extension())
}

// Save writes state to dir and returns the file path.
func (p *Persister[T]) Save(dir string, state *T) (string, error) {
	return SaveState(dir, p.basename, p.codec, state)
}

// Load reads state back from dir.
func (p *Persister[T]) Load(dir string) (*T, error) {
	var state T

	err := LoadState(p.Path(dir), p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// VolumeBasename names a channel's file within a run: <run>-ch<NN>.
func VolumeBasename(runID string, channel uint8) string {
	return fmt.Sprintf("%s-ch%02d", runID, channel)
}

// SaveVolumes writes one file per channel in ascending channel order and
// returns the paths written.
func SaveVolumes(dir, runID string, codec Codec, vols map[uint8]*volume.Volume) ([]string, error) {
	paths := make([]string, 0, len(vols))

	for _, ch := range slices.Sorted(maps.Keys(vols)) {
		p := NewPersister[VolumeRecord](VolumeBasename(runID, ch), codec)

		path, err := p.Save(dir, RecordOf(vols[ch]))
		if err != nil {
			return paths, fmt.Errorf("save channel %d: %w", ch, err)
		}

		paths = append(paths, path)
	}

	return paths, nil
}

// LoadVolume reads one channel of a run back from dir.
func LoadVolume(dir, runID string, channel uint8, codec Codec) (*volume.Volume, error) {
	rec, err := NewPersister[VolumeRecord](VolumeBasename(runID, channel), codec).Load(dir)
	if err != nil {
		return nil, err
	}

	return rec.Volume()
}
