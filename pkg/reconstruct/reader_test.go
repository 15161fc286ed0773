package reconstruct_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tagvol/pkg/pointstream"
	"github.com/Sumatoshi-tech/tagvol/pkg/reconstruct"
	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

var shape = volume.Shape{Rows: 8, Columns: 4, Planes: 2}

type point struct {
	ch      uint8
	x, y, z uint32
	v       float32
}

func batchOf(points ...point) *pointstream.Batch {
	b := &pointstream.Batch{}
	for _, p := range points {
		b.Append(p.ch, p.x, p.y, p.z, p.v)
	}

	return b
}

func run(t *testing.T, src pointstream.Source, opts ...reconstruct.Option) (reconstruct.Result, error) {
	t.Helper()

	r, err := reconstruct.Open(src, shape, opts...)
	require.NoError(t, err)

	defer r.Close()

	return r.Run(context.Background())
}

func TestRun_PartitionsByChannel(t *testing.T) {
	t.Parallel()

	src := pointstream.NewSliceSource(batchOf(
		point{ch: 0, x: 1, v: 0.1},
		point{ch: 0, x: 2, v: 0.2},
		point{ch: 1, x: 3, v: 0.3},
	))

	res, err := run(t, src)
	require.NoError(t, err)

	assert.Equal(t, []uint8{0, 1}, res.Channels())
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, uint64(3), res.Rows)
	assert.False(t, res.RunID.IsNil())

	ch0 := res.Volumes[0]
	assert.Equal(t, 2, ch0.Len())
	assert.InDelta(t, 0.1, ch0.At(volume.Coord{X: 1}), 1e-6)
	assert.InDelta(t, 0.2, ch0.At(volume.Coord{X: 2}), 1e-6)
	assert.Equal(t, shape, ch0.Shape())

	ch1 := res.Volumes[1]
	assert.Equal(t, 1, ch1.Len())
	assert.InDelta(t, 0.3, ch1.At(volume.Coord{X: 3}), 1e-6)
}

func TestRun_EmptyStream(t *testing.T) {
	t.Parallel()

	res, err := run(t, pointstream.NewSliceSource())
	require.NoError(t, err)
	assert.Empty(t, res.Volumes)
	assert.Zero(t, res.Batches)
}

func TestStep_MalformedBatchAppliesNothing(t *testing.T) {
	t.Parallel()

	bad := batchOf(point{ch: 0, x: 5, v: 9}, point{ch: 2, x: 6, v: 9})
	bad.X = bad.X[:1]

	src := pointstream.NewSliceSource(
		batchOf(point{ch: 0, x: 1, v: 1}),
		bad,
	)

	r, err := reconstruct.Open(src, shape)
	require.NoError(t, err)

	require.NoError(t, r.Step(context.Background()))

	err = r.Step(context.Background())
	require.ErrorIs(t, err, pointstream.ErrMalformedBatch)
	assert.Contains(t, err.Error(), "batch 1")

	assert.Equal(t, map[uint8]uint64{0: 1}, reconstruct.BuilderSamples(r))

	// The failure is sticky.
	require.ErrorIs(t, r.Step(context.Background()), pointstream.ErrMalformedBatch)
	_, err = r.Finalize(context.Background())
	require.ErrorIs(t, err, pointstream.ErrMalformedBatch)
}

func TestStep_OutOfBoundsAppliesNothing(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 4} {
		src := pointstream.NewSliceSource(
			batchOf(point{ch: 0, x: 1, v: 1}),
			batchOf(
				point{ch: 0, x: 2, v: 1},
				point{ch: 1, x: 0, v: 1},
				point{ch: 3, x: shape.Rows, v: 1},
			),
		)

		r, err := reconstruct.Open(src, shape, reconstruct.WithWorkers(workers))
		require.NoError(t, err)

		require.NoError(t, r.Step(context.Background()))

		err = r.Step(context.Background())
		require.ErrorIs(t, err, volume.ErrOutOfBounds)

		var oob *volume.OutOfBoundsError
		require.ErrorAs(t, err, &oob)
		assert.Equal(t, uint8(3), oob.Channel)
		assert.Equal(t, volume.Coord{X: shape.Rows}, oob.Coord)
		assert.Equal(t, shape, oob.Shape)

		assert.Equal(t, map[uint8]uint64{0: 1}, reconstruct.BuilderSamples(r))
	}
}

func TestRun_OutOfBoundsAbortsPass(t *testing.T) {
	t.Parallel()

	src := pointstream.NewSliceSource(batchOf(point{ch: 0, z: shape.Planes, v: 1}))

	res, err := run(t, src)
	require.ErrorIs(t, err, volume.ErrOutOfBounds)
	assert.Nil(t, res.Volumes)
}

func TestRun_MergePoliciesAcrossBatches(t *testing.T) {
	t.Parallel()

	c := volume.Coord{X: 1, Y: 1, Z: 1}
	mk := func() pointstream.Source {
		return pointstream.NewSliceSource(
			batchOf(point{ch: 0, x: 1, y: 1, z: 1, v: 1}, point{ch: 0, x: 1, y: 1, z: 1, v: 2}),
			batchOf(point{ch: 0, x: 1, y: 1, z: 1, v: 4}),
		)
	}

	tests := []struct {
		policy volume.MergePolicy
		want   float64
	}{
		{volume.MergeSum, 7},
		{volume.MergeOverwrite, 4},
		{volume.MergeKeepFirst, 1},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			t.Parallel()

			res, err := run(t, mk(), reconstruct.WithMergePolicy(tt.policy), reconstruct.WithWorkers(3))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.Volumes[0].At(c), 1e-9)
		})
	}
}

// synthetic builds a deterministic multi-channel stream with duplicates.
func synthetic(batches, rows int) []*pointstream.Batch {
	out := make([]*pointstream.Batch, 0, batches)
	seed := uint32(7)

	next := func() uint32 {
		seed = seed*1664525 + 1013904223

		return seed >> 8
	}

	for range batches {
		b := &pointstream.Batch{}
		for range rows {
			b.Append(uint8(next()%5), next()%shape.Rows, next()%shape.Columns, next()%shape.Planes, float32(next()%100)/10)
		}

		out = append(out, b)
	}

	return out
}

func TestRun_WorkersMatchSequential(t *testing.T) {
	t.Parallel()

	for _, policy := range []volume.MergePolicy{volume.MergeSum, volume.MergeOverwrite, volume.MergeKeepFirst} {
		seq, err := run(t, pointstream.NewSliceSource(synthetic(20, 200)...), reconstruct.WithMergePolicy(policy))
		require.NoError(t, err)

		par, err := run(t, pointstream.NewSliceSource(synthetic(20, 200)...),
			reconstruct.WithMergePolicy(policy), reconstruct.WithWorkers(8))
		require.NoError(t, err)

		require.Equal(t, seq.Channels(), par.Channels())

		for _, ch := range seq.Channels() {
			want, got := seq.Volumes[ch], par.Volumes[ch]
			require.Equal(t, want.Coords(), got.Coords(), "policy %s channel %d", policy, ch)

			for c, v := range want.All() {
				assert.InDelta(t, v, got.At(c), 1e-9)
			}
		}
	}
}

// blockingSource hands out batches forever, signalling each delivery.
type blockingSource struct {
	delivered chan struct{}
}

func (s *blockingSource) Next(ctx context.Context) (*pointstream.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case s.delivered <- struct{}{}:
	default:
	}

	return batchOf(point{ch: 1, x: 1, v: 1}), nil
}

func (s *blockingSource) Close() error { return nil }

func TestRun_StopFinalizesCleanly(t *testing.T) {
	t.Parallel()

	src := &blockingSource{delivered: make(chan struct{})}

	r, err := reconstruct.Open(src, shape)
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		res reconstruct.Result
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		res, err = r.Run(context.Background())
	}()

	<-src.delivered
	r.Stop()
	wg.Wait()

	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Positive(t, res.Batches)
	assert.InDelta(t, float64(res.Batches), res.Volumes[1].At(volume.Coord{X: 1}), 1e-9)

	_, err = r.Finalize(context.Background())
	require.ErrorIs(t, err, reconstruct.ErrFinalized)
}

func TestRun_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := reconstruct.Open(&blockingSource{delivered: make(chan struct{})}, shape)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

type recordingObserver struct {
	batches int
	rows    int
	volumes map[uint8]int
}

func (o *recordingObserver) ObserveBatch(_ context.Context, rows, _ int, _ time.Duration) {
	o.batches++
	o.rows += rows
}

func (o *recordingObserver) ObserveVolume(_ context.Context, channel uint8, coordinates int) {
	if o.volumes == nil {
		o.volumes = make(map[uint8]int)
	}

	o.volumes[channel] = coordinates
}

func TestRun_Observer(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	src := pointstream.NewSliceSource(
		batchOf(point{ch: 0, x: 1, v: 1}, point{ch: 2, x: 1, v: 1}),
		batchOf(point{ch: 0, x: 2, v: 1}),
	)

	_, err := run(t, src, reconstruct.WithObserver(obs))
	require.NoError(t, err)

	assert.Equal(t, 2, obs.batches)
	assert.Equal(t, 3, obs.rows)
	assert.Equal(t, map[uint8]int{0: 2, 2: 1}, obs.volumes)
}

func TestOpen_Validation(t *testing.T) {
	t.Parallel()

	_, err := reconstruct.Open(nil, shape)
	require.ErrorIs(t, err, reconstruct.ErrNilSource)

	_, err = reconstruct.Open(pointstream.NewSliceSource(), volume.Shape{Rows: 1})
	require.ErrorIs(t, err, volume.ErrEmptyShape)
}

func TestStep_EOF(t *testing.T) {
	t.Parallel()

	r, err := reconstruct.Open(pointstream.NewSliceSource(), shape)
	require.NoError(t, err)

	require.ErrorIs(t, r.Step(context.Background()), io.EOF)
}
