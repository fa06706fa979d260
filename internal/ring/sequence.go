package ring

import "sync/atomic"

// Sequence is a cursor tracking the highest slot index a producer has
// published or a consumer has finished. Padded to its own cache line so
// hot producer/consumer cursors do not false-share.
type Sequence struct {
	_ [56]byte
	v atomic.Int64
	_ [56]byte
}

// NewSequence returns a sequence initialized to -1 (nothing processed).
func NewSequence() *Sequence {
	s := &Sequence{}
	s.v.Store(-1)
	return s
}

func (s *Sequence) Get() int64 {
	return s.v.Load()
}

func (s *Sequence) Set(val int64) {
	s.v.Store(val)
}

// minSequence returns the smallest value across seqs, or fallback when
// seqs is empty.
func minSequence(seqs []*Sequence, fallback int64) int64 {
	min := fallback
	for i, s := range seqs {
		v := s.Get()
		if i == 0 || v < min {
			min = v
		}
	}
	return min
}
