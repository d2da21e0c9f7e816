// Package gpio provides relay output control with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relay drives a single digital output line wired to a relay.
type Relay interface {
	// Set energizes (true) or releases (false) the relay.
	Set(on bool) error

	// Close drives the line low and releases GPIO resources.
	Close() error
}

// Defaults (BCM numbering). GPIO24 is physical pin 18; the relay's
// negative terminal goes to GND on pin 20.
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 24
)
