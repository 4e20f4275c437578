package telemetry

import "context"

// FakeSink records sent telemetry for test assertions.
type FakeSink struct {
	Records []Record
	// SendError, if set, will be returned by Send.
	SendError error
	Closed    bool
}

// Send records the telemetry entry.
func (f *FakeSink) Send(_ context.Context, r Record) error {
	if f.SendError != nil {
		return f.SendError
	}
	f.Records = append(f.Records, r)
	return nil
}

// Close marks the sink as closed.
func (f *FakeSink) Close() error {
	f.Closed = true
	return nil
}
