package reconstruct

// BuilderSamples exposes per-channel merged sample counts for tests.
func BuilderSamples(r *Reader) map[uint8]uint64 {
	out := make(map[uint8]uint64, len(r.builders))
	for ch, b := range r.builders {
		out[ch] = b.Samples()
	}

	return out
}
