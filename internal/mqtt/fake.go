package mqtt

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	// PumpEvents contains all pump transitions that were published.
	PumpEvents []PumpEvent

	// Readings contains all temperature readings that were published.
	Readings []Reading

	// Assignments contains all sensor assignments that were published.
	Assignments []Assignment

	// Payloads maps each topic to the JSON payloads published on it, in order.
	Payloads map[string][][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// PublishError, if set, will be returned by the non-system publish methods.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Payloads: make(map[string][][]byte)}
}

func (f *FakePublisher) record(topic string, payload []byte) {
	if f.Payloads == nil {
		f.Payloads = make(map[string][][]byte)
	}
	f.Payloads[topic] = append(f.Payloads[topic], payload)
}

// PublishPump records the pump transition.
func (f *FakePublisher) PublishPump(event PumpEvent) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPumpPayload(event)
	if err != nil {
		return err
	}
	f.PumpEvents = append(f.PumpEvents, event)
	f.record(TopicPump, payload)
	return nil
}

// PublishTemperature records the reading.
func (f *FakePublisher) PublishTemperature(r Reading) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatTemperaturePayload(r)
	if err != nil {
		return err
	}
	f.Readings = append(f.Readings, r)
	f.record(TemperatureTopic(r.Channel), payload)
	return nil
}

// PublishAssignment records the assignment.
func (f *FakePublisher) PublishAssignment(a Assignment) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatAddressPayload(a)
	if err != nil {
		return err
	}
	f.Assignments = append(f.Assignments, a)
	f.record(TopicAddress, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.record(TopicSystem, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.PumpEvents = nil
	f.Readings = nil
	f.Assignments = nil
	f.Payloads = make(map[string][][]byte)
	f.SystemEvents = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
