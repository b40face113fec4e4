package engine

import "github.com/XavierBriggs/Iris/pkg/models"

// ring keeps the last cap applied states of one event, oldest evicted first
type ring struct {
	buf   []models.ScoreState
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]models.ScoreState, capacity)}
}

func (r *ring) push(s models.ScoreState) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// items returns the states oldest first
func (r *ring) items() []models.ScoreState {
	out := make([]models.ScoreState, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
