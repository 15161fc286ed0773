package volume

import (
	"errors"
	"fmt"
	"strings"
)

// MergePolicy decides what happens when a coordinate is written more than once.
type MergePolicy uint8

// Merge policies.
const (
	// MergeSum adds every value written to a coordinate.
	MergeSum MergePolicy = iota
	// MergeOverwrite keeps the latest value in stream order.
	MergeOverwrite
	// MergeKeepFirst keeps the earliest value in stream order.
	MergeKeepFirst
)

// ErrUnknownMergePolicy is returned by ParseMergePolicy.
var ErrUnknownMergePolicy = errors.New("unknown merge policy")

// String returns the configuration name of the policy.
func (p MergePolicy) String() string {
	switch p {
	case MergeSum:
		return "sum"
	case MergeOverwrite:
		return "overwrite"
	case MergeKeepFirst:
		return "keep-first"
	default:
		return fmt.Sprintf("MergePolicy(%d)", uint8(p))
	}
}

// Commutative reports whether the result is independent of the order in which
// samples for one coordinate arrive.
func (p MergePolicy) Commutative() bool {
	return p == MergeSum
}

// ParseMergePolicy accepts "sum", "overwrite" and "keep-first". The empty
// string selects MergeSum.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sum":
		return MergeSum, nil
	case "overwrite", "latest":
		return MergeOverwrite, nil
	case "keep-first", "keep_first", "first":
		return MergeKeepFirst, nil
	default:
		return MergeSum, fmt.Errorf("%w: %q", ErrUnknownMergePolicy, s)
	}
}

// Builder accumulates samples for one channel. It is not safe for concurrent
// use.
type Builder struct {
	channel uint8
	shape   Shape
	policy  MergePolicy
	values  map[Coord]float64
	samples uint64
}

// NewBuilder creates an empty builder.
func NewBuilder(channel uint8, shape Shape, policy MergePolicy) *Builder {
	return &Builder{
		channel: channel,
		shape:   shape,
		policy:  policy,
		values:  make(map[Coord]float64),
	}
}

// Channel returns the builder's detector channel.
func (b *Builder) Channel() uint8 { return b.channel }

// Len returns the number of distinct coordinates seen so far.
func (b *Builder) Len() int { return len(b.values) }

// Samples returns the number of samples merged so far, duplicates included.
func (b *Builder) Samples() uint64 { return b.samples }

// Check returns an *OutOfBoundsError for the first sample outside the shape.
func (b *Builder) Check(samples []Sample) error {
	for i := range samples {
		if !b.shape.Contains(samples[i].Coord) {
			return &OutOfBoundsError{Channel: b.channel, Coord: samples[i].Coord, Shape: b.shape}
		}
	}

	return nil
}

// Add merges samples in order. The whole slice is checked first, so on error
// the builder is unchanged.
func (b *Builder) Add(samples []Sample) error {
	err := b.Check(samples)
	if err != nil {
		return err
	}

	b.merge(samples)

	return nil
}

func (b *Builder) merge(samples []Sample) {
	for _, s := range samples {
		prev, seen := b.values[s.Coord]

		switch {
		case !seen:
			b.values[s.Coord] = s.Value
		case b.policy == MergeSum:
			b.values[s.Coord] = prev + s.Value
		case b.policy == MergeOverwrite:
			b.values[s.Coord] = s.Value
		}
	}

	b.samples += uint64(len(samples))
}

// Finalize returns the immutable volume. The builder must not be used again.
func (b *Builder) Finalize() *Volume {
	v := &Volume{channel: b.channel, shape: b.shape, values: b.values}
	b.values = nil

	return v
}
