package peer

import "github.com/pion/webrtc/v3"

// CandidateBuffer holds remote candidates that arrived before the remote
// description they belong to. It keeps arrival order and does not dedupe.
type CandidateBuffer struct {
	candidates []webrtc.ICECandidateInit
	drained    bool
}

func (b *CandidateBuffer) Push(c webrtc.ICECandidateInit) {
	b.candidates = append(b.candidates, c)
}

// Drain returns the buffered candidates in arrival order. Only the first call
// returns anything.
func (b *CandidateBuffer) Drain() []webrtc.ICECandidateInit {
	if b.drained {
		return nil
	}

	b.drained = true
	out := b.candidates
	b.candidates = nil

	return out
}

// Rearm lets the buffer drain again, for a transport that lost its remote
// description. Buffered candidates are kept.
func (b *CandidateBuffer) Rearm() {
	b.drained = false
}

func (b *CandidateBuffer) Discard() {
	b.candidates = nil
	b.drained = true
}

func (b *CandidateBuffer) Len() int {
	return len(b.candidates)
}
