package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

var testShape = volume.Shape{Rows: 4, Columns: 4, Planes: 2}

func testVolume(t *testing.T, channel uint8) *volume.Volume {
	t.Helper()

	v, err := volume.New(channel, testShape, map[volume.Coord]float64{
		{X: 3, Y: 0, Z: 1}: 0.5,
		{X: 0, Y: 2, Z: 0}: 1.5,
	})
	require.NoError(t, err)

	return v
}

func TestRecordOf_SortedEntries(t *testing.T) {
	t.Parallel()

	rec := RecordOf(testVolume(t, 3))

	assert.Equal(t, uint8(3), rec.Channel)
	assert.Equal(t, testShape, rec.Shape)
	assert.Equal(t, []Entry{
		{Coord: volume.Coord{X: 0, Y: 2, Z: 0}, Value: 1.5},
		{Coord: volume.Coord{X: 3, Y: 0, Z: 1}, Value: 0.5},
	}, rec.Entries)
}

func TestVolumeRecord_RejectsOutOfBounds(t *testing.T) {
	t.Parallel()

	rec := &VolumeRecord{Shape: testShape, Entries: []Entry{{Coord: volume.Coord{X: 4}}}}

	_, err := rec.Volume()
	require.ErrorIs(t, err, volume.ErrOutOfBounds)
}

func TestVolumeRecord_RejectsDuplicateCoordinate(t *testing.T) {
	t.Parallel()

	c := volume.Coord{X: 1, Y: 1, Z: 0}
	rec := &VolumeRecord{Channel: 2, Shape: testShape, Entries: []Entry{
		{Coord: c, Value: 1},
		{Coord: volume.Coord{X: 2}, Value: 3},
		{Coord: c, Value: 5},
	}}

	_, err := rec.Volume()
	require.ErrorIs(t, err, ErrDuplicateEntry)
	assert.Contains(t, err.Error(), "entry 2")
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	for _, codec := range []Codec{NewJSONCodec(), NewGobCodec(), NewLZ4Codec(NewGobCodec())} {
		dir := t.TempDir()

		p := NewPersister[VolumeRecord]("vol", codec)

		path, err := p.Save(dir, RecordOf(testVolume(t, 1)))
		require.NoError(t, err)
		assert.Equal(t, p.Path(dir), path)

		restored, err := p.Load(dir)
		require.NoError(t, err)
		assert.Equal(t, RecordOf(testVolume(t, 1)), restored)
	}
}

func TestSaveVolumes_LoadVolume(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewLZ4Codec(NewJSONCodec())

	vols := map[uint8]*volume.Volume{
		7: testVolume(t, 7),
		0: testVolume(t, 0),
	}

	paths, err := SaveVolumes(dir, "run1", codec, vols)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "run1-ch00.json.lz4"),
		filepath.Join(dir, "run1-ch07.json.lz4"),
	}, paths)

	v, err := LoadVolume(dir, "run1", 7, codec)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), v.Channel())
	assert.Equal(t, vols[7].Coords(), v.Coords())
	assert.InDelta(t, vols[7].Sum(), v.Sum(), 1e-12)

	_, err = LoadVolume(dir, "run1", 3, codec)
	require.Error(t, err)
}
