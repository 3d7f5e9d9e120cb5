package pathmon

import "time"

// A request is a currently running probe waiting for an answer.
type request struct {
	tStart  time.Time // taken right before the packet leaves
	outcome Outcome
	done    chan struct{}
}

func newRequest() *request {
	return &request{
		tStart: time.Now(),
		done:   make(chan struct{}),
	}
}

// respond finishes this request with the given outcome. Must be called
// at most once; resolve guarantees that by removing the request from
// the map first.
func (req *request) respond(out Outcome) {
	req.outcome = out
	close(req.done)
}
