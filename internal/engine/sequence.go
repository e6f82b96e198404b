package engine

import "sync/atomic"

// Sequence hands out commit sequence numbers.
//
// Numbers are strictly increasing and never reused, so the commit log has a
// single total order independent of wall time. Safe for concurrent use.
type Sequence struct {
	last atomic.Int64
}

// NewSequence returns a sequence whose next number is last+1.
func NewSequence(last int64) *Sequence {
	s := &Sequence{}
	s.last.Store(last)
	return s
}

// Next reserves and returns the next number.
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}

// Last returns the most recently reserved number, 0 if none.
func (s *Sequence) Last() int64 {
	return s.last.Load()
}

// Resume raises the sequence to at least seq and reports whether it moved.
// A store holding commits up to seq must never see those numbers again.
func (s *Sequence) Resume(seq int64) bool {
	for {
		cur := s.last.Load()
		if seq <= cur {
			return false
		}
		if s.last.CompareAndSwap(cur, seq) {
			return true
		}
	}
}
