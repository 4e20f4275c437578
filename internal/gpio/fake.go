package gpio

// FakeRelay is a test double that records relay switching.
type FakeRelay struct {
	// On is the current relay state.
	On bool
	// History contains every value passed to Set.
	History []bool
	// Closed tracks if Close was called
	Closed bool
	// SetError, if set, will be returned by Set()
	SetError error
}

// NewFakeRelay creates a de-energized FakeRelay.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Set records the new relay state.
func (f *FakeRelay) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.On = on
	f.History = append(f.History, on)
	return nil
}

// Close de-energizes and marks the relay as closed.
func (f *FakeRelay) Close() error {
	f.On = false
	f.Closed = true
	return nil
}

// Reset clears recorded state.
func (f *FakeRelay) Reset() {
	f.On = false
	f.History = nil
	f.Closed = false
	f.SetError = nil
}
