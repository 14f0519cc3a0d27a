package pipeline

// Item is one inbound unit received from a source stream.
//
// A fetched Item may alias transport-owned buffers that stay valid only
// until the next Fetch on the same Source. Detach returns a copy that is
// safe to hold across pulls; the Dispatcher always detaches before an item
// crosses into concurrent work.
type Item struct {
	// Stream is the topic or stream the item was received from.
	Stream string
	// Partition is the partition or shard, 0 where the transport has none.
	Partition int
	// Offset is a monotonically increasing sequence token scoped to the
	// partition.
	Offset int64
	// Key is the optional routing key.
	Key []byte
	// Payload is the opaque message body, nil when the transport delivered
	// none.
	Payload []byte
}

// Detach returns a deep copy of the item with freshly owned Key and Payload.
func (it Item) Detach() Item {
	out := it
	if it.Key != nil {
		out.Key = append([]byte(nil), it.Key...)
	}
	if it.Payload != nil {
		out.Payload = append([]byte(nil), it.Payload...)
	}
	return out
}

// Receipt is the delivery metadata a Sink returns for one publish.
// Partition and Offset are -1 when the transport does not report them.
type Receipt struct {
	Destination string `json:"destination"`
	Partition   int    `json:"partition"`
	Offset      int64  `json:"offset"`
}

// UnitState tracks a dispatch unit through its lifecycle. Each unit moves
// forward only: Received, Offloading, then either OffloadFailed or
// Offloaded, Publishing, and finally Published or PublishFailed.
type UnitState int

const (
	// UnitReceived means the unit holds a detached item and has not started work.
	UnitReceived UnitState = iota
	// UnitOffloading means the computation has been handed to the worker pool.
	UnitOffloading
	// UnitOffloaded means the computation produced a result.
	UnitOffloaded
	// UnitOffloadFailed means the computation errored or panicked. Terminal.
	UnitOffloadFailed
	// UnitPublishing means the result is being published to the sink.
	UnitPublishing
	// UnitPublished means the sink acknowledged the result. Terminal.
	UnitPublished
	// UnitPublishFailed means the sink rejected the result. Terminal.
	UnitPublishFailed
)

// String returns the state name used in logs and metric labels.
func (s UnitState) String() string {
	switch s {
	case UnitReceived:
		return "received"
	case UnitOffloading:
		return "offloading"
	case UnitOffloaded:
		return "offloaded"
	case UnitOffloadFailed:
		return "offload_failed"
	case UnitPublishing:
		return "publishing"
	case UnitPublished:
		return "published"
	case UnitPublishFailed:
		return "publish_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a unit in this state has finished.
func (s UnitState) Terminal() bool {
	switch s {
	case UnitPublished, UnitPublishFailed, UnitOffloadFailed:
		return true
	default:
		return false
	}
}
