package commands

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tagvol/pkg/pointstream"
	"github.com/Sumatoshi-tech/tagvol/pkg/safeconv"
	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

// Synthetic stream defaults.
const (
	defaultSynthPoints    = 100_000
	defaultSynthChannels  = 2
	defaultSynthBatchRows = 8192
	defaultSynthSide      = 64
	defaultSynthPlanes    = 4
)

var (
	errNoOutput        = errors.New("output file is required (use --out)")
	errInvalidPoints   = errors.New("points must not be negative")
	errInvalidChannels = errors.New("channels must be between 1 and 256")
	errInvalidBatch    = errors.New("batch rows must be positive")
)

type synthOptions struct {
	out       string
	points    int
	channels  int
	batchRows int
	seed      uint64
	shape     volume.Shape
}

func (o synthOptions) validate() error {
	switch {
	case o.out == "":
		return errNoOutput
	case o.points < 0:
		return fmt.Errorf("%w: %d", errInvalidPoints, o.points)
	case o.channels < 1 || o.channels > 256:
		return fmt.Errorf("%w: %d", errInvalidChannels, o.channels)
	case o.batchRows <= 0:
		return fmt.Errorf("%w: %d", errInvalidBatch, o.batchRows)
	}

	return o.shape.Validate()
}

// NewSynthCommand creates the synth command.
func NewSynthCommand() *cobra.Command {
	o := synthOptions{
		shape: volume.Shape{Rows: defaultSynthSide, Columns: defaultSynthSide, Planes: defaultSynthPlanes},
	}

	cmd := &cobra.Command{
		Use:   "synth --out FILE",
		Short: "Write a synthetic point stream",
		Long: `Writes uniformly scattered photons over the given shape, spread across
channels round-robin. The format follows the extension: .arrow_stream or .arrow
for Arrow IPC, .parquet for Parquet. The same seed always yields the same file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := o.validate()
			if err != nil {
				return err
			}

			written, err := writeSynth(o)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s points in %s batches to %s\n",
				humanize.Comma(int64(o.points)), humanize.Comma(int64(written)), o.out)
			if err != nil {
				return fmt.Errorf("write summary: %w", err)
			}

			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.out, "out", "", "output file (.arrow_stream, .arrow or .parquet)")
	f.IntVar(&o.points, "points", defaultSynthPoints, "number of points")
	f.IntVar(&o.channels, "channels", defaultSynthChannels, "number of detector channels")
	f.IntVar(&o.batchRows, "batch-rows", defaultSynthBatchRows, "rows per written batch")
	f.Uint64Var(&o.seed, "seed", 1, "random seed")
	f.Uint32Var(&o.shape.Rows, "rows", o.shape.Rows, "volume rows")
	f.Uint32Var(&o.shape.Columns, "columns", o.shape.Columns, "volume columns")
	f.Uint32Var(&o.shape.Planes, "planes", o.shape.Planes, "volume planes")

	return cmd
}

// writeSynth writes the stream and returns the number of batches.
func writeSynth(o synthOptions) (int, error) {
	sink, err := pointstream.CreateFile(o.out)
	if err != nil {
		return 0, err
	}

	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))

	var (
		batches int
		batch   = &pointstream.Batch{}
	)

	for i := range o.points {
		batch.Append(
			safeconv.MustUint8(i%o.channels),
			rng.Uint32N(o.shape.Rows),
			rng.Uint32N(o.shape.Columns),
			rng.Uint32N(o.shape.Planes),
			1,
		)

		if batch.Len() == o.batchRows {
			err = sink.Write(batch)
			if err != nil {
				return batches, errors.Join(err, sink.Close())
			}

			batches++
			batch = &pointstream.Batch{Seq: batches}
		}
	}

	if batch.Len() > 0 {
		err = sink.Write(batch)
		if err != nil {
			return batches, errors.Join(err, sink.Close())
		}

		batches++
	}

	return batches, sink.Close()
}
