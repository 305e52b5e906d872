package process

import "sync"

// Progress is the fraction of the current run already merged, shared
// between the pipeline worker and the front-end.
//
// The whole merge-decode-assemble-write pipeline runs on one worker; the
// front-end only ever observes this value, so a mutex around one float is
// the entire concurrency surface.
type Progress struct {
	mu   sync.Mutex
	frac float64
}

// NewProgress returns a Progress at zero.
func NewProgress() *Progress {
	return &Progress{}
}

// Add advances the fraction by delta.
func (p *Progress) Add(delta float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frac += delta
}

// Reset zeroes the fraction at the start of a run.
func (p *Progress) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frac = 0
}

// Fraction returns the current fraction.
func (p *Progress) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.frac
}
