package pathmon

import (
	"net"
	"time"
)

// OutcomeKind classifies what answered a probe.
type OutcomeKind int

const (
	// Timeout means no matching answer arrived before the deadline.
	Timeout OutcomeKind = iota

	// Reply is an echo reply from the probed address itself.
	Reply

	// TTLExceeded is a time-exceeded notification from an intermediate
	// router; Peer names that router.
	TTLExceeded

	// Unreachable is a destination-unreachable notification.
	Unreachable
)

func (k OutcomeKind) String() string {
	switch k {
	case Reply:
		return "reply"
	case TTLExceeded:
		return "ttl exceeded"
	case Unreachable:
		return "unreachable"
	}
	return "timeout"
}

// Outcome is the classified answer to a single probe. A lost packet is
// an Outcome, not an error; Probe returns errors for local failures
// only.
type Outcome struct {
	Kind OutcomeKind
	RTT  time.Duration // round trip time, set for Reply
	Peer net.IP        // answering address, unset for Timeout
}
