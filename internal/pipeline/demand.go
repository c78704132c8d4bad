package pipeline

import "sync"

// demandGate is the shared flag signaling whether the ingest point can
// currently accept another frame.
//
// The runtime flips it from its own threads via the need-data/enough-data
// callbacks; the submission path reads it on every attempt. The flag is
// level-triggered: a true reading is only valid for the submission that
// observed it, the next submission must read again.
//
// The gate has its own lock, held only for the flag access itself, so the
// runtime callbacks never contend with the handling lock and never block.
type demandGate struct {
	mu   sync.Mutex
	want bool
}

// needData marks the graph as ready for more frames.
func (d *demandGate) needData() {
	d.mu.Lock()
	d.want = true
	d.mu.Unlock()
}

// enoughData marks the graph as saturated.
func (d *demandGate) enoughData() {
	d.mu.Lock()
	d.want = false
	d.mu.Unlock()
}

// ready reports whether the graph currently wants data.
func (d *demandGate) ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.want
}

// reset forces the flag off, used when the demand callbacks are torn down.
func (d *demandGate) reset() {
	d.enoughData()
}
