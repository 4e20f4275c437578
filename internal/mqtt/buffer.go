package mqtt

import "log"

// outboxMsg stores a serialized MQTT message for replay after reconnection.
type outboxMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a bounded FIFO holding messages published while disconnected.
// When full, the oldest message is dropped.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs    []outboxMsg
	limit   int
	dropped int // dropped since the last drain
}

func newOutbox(limit int) *outbox {
	return &outbox{
		msgs:  make([]outboxMsg, 0, limit),
		limit: limit,
	}
}

func (o *outbox) push(msg outboxMsg) {
	if len(o.msgs) == o.limit {
		if o.dropped == 0 {
			log.Printf("mqtt: outbox full (%d messages), dropping oldest", o.limit)
		}
		o.dropped++
		copy(o.msgs, o.msgs[1:])
		o.msgs[len(o.msgs)-1] = msg
		return
	}
	o.msgs = append(o.msgs, msg)
}

// drain returns the queued messages oldest first and empties the outbox.
func (o *outbox) drain() []outboxMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := make([]outboxMsg, len(o.msgs))
	copy(out, o.msgs)
	o.msgs = o.msgs[:0]
	o.dropped = 0
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
