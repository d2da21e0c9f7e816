package gpio

import "errors"

// FakeRelay is a test double that records every state it is driven to.
type FakeRelay struct {
	// On is the current output state.
	On bool

	// History contains every value passed to Set, in order.
	History []bool

	// SetError, if set, will be returned by Set. The state is not changed.
	SetError error

	// FailOn, if set, is returned only when Set(true) is called.
	FailOn error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeRelay creates a FakeRelay in the OFF state.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Set records the requested state.
func (f *FakeRelay) Set(on bool) error {
	if f.Closed {
		return errors.New("relay closed")
	}
	if f.SetError != nil {
		return f.SetError
	}
	if on && f.FailOn != nil {
		return f.FailOn
	}
	f.On = on
	f.History = append(f.History, on)
	return nil
}

// Close drives the relay off and marks it closed.
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
	f.FailOn = nil
}
