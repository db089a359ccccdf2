package negotiator

import "context"

const opQueueSize = 64

// opQueue runs negotiation operations one at a time, in submission order,
// on a single goroutine. Nothing touches the PeerConnection's descriptions or
// candidates outside it.
type opQueue struct {
	inbox chan func()
}

// newOpQueue starts the queue goroutine. It exits when ctx is cancelled.
func newOpQueue(ctx context.Context) *opQueue {
	q := &opQueue{inbox: make(chan func(), opQueueSize)}
	go q.loop(ctx)
	return q
}

func (q *opQueue) loop(ctx context.Context) {
	for {
		select {
		case op := <-q.inbox:
			op()
		case <-ctx.Done():
			return
		}
	}
}

// submit enqueues op. It blocks while the queue is full and gives up
// silently once ctx is cancelled.
func (q *opQueue) submit(ctx context.Context, op func()) {
	select {
	case q.inbox <- op:
	case <-ctx.Done():
	}
}
