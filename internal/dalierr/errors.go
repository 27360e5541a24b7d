// Package dalierr defines the error taxonomy shared across the transport,
// dispatcher, driver, and commissioning layers (spec §7), in the
// msg+wrapped-error shape used by Daedaluz-goserial's error.go.
package dalierr

// Error pairs a human-readable message with an optional wrapped cause.
type Error struct {
	msg string
	err error
}

func (e Error) Error() string {
	if e.msg != "" {
		if e.err != nil {
			return e.msg + ": " + e.err.Error()
		}
		return e.msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e Error) Unwrap() error {
	return e.err
}

// Wrap returns nil if err is nil, otherwise an Error carrying msg and err.
func Wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	return Error{msg: msg, err: err}
}

// Sentinels for the taxonomy in spec §7. Use errors.Is against these.
var (
	// ErrDeviceUnavailable: HID open failed (no device at the configured
	// VID/PID).
	ErrDeviceUnavailable = Error{msg: "dali: device unavailable"}

	// ErrFramingError: bus-level collision or corruption. During Compare
	// this is a positive signal (>=2 devices); elsewhere it propagates.
	ErrFramingError = Error{msg: "dali: framing error"}

	// ErrTimeout: no terminal inbound event arrived within the request
	// deadline.
	ErrTimeout = Error{msg: "dali: request timed out"}

	// ErrClash: two devices share a search address after randomisation.
	ErrClash = Error{msg: "dali: search address clash"}

	// ErrAssignmentFailure: a programmed short address did not read back
	// identical.
	ErrAssignmentFailure = Error{msg: "dali: short address assignment failed"}

	// ErrMemoryRead: an absent response occurred during a memory-bank read.
	ErrMemoryRead = Error{msg: "dali: memory read failed"}

	// ErrProtocol: an out-of-contract response byte was received (e.g.
	// Compare returned something other than 0xFF).
	ErrProtocol = Error{msg: "dali: protocol error"}

	// ErrClosed: an operation was attempted after the driver was closed.
	ErrClosed = Error{msg: "dali: driver closed"}
)
