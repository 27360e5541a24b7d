// Package transport is the out-of-scope HID collaborator pinned by spec §4.1
// and §6: opening/closing the USB device and blocking reads/writes against
// it. Everything above this package only depends on the Device interface,
// so tests substitute a fake and never touch real hardware.
package transport

import (
	"time"

	"github.com/brucejcooper/tridonic-dali-go/internal/dalierr"
)

// VendorID and ProductID identify the Tridonic DALI USB bridge (spec §6).
const (
	VendorID  = 0x17b5
	ProductID = 0x0020
)

// ReportSize is the fixed outbound HID report length.
const ReportSize = 64

// InboundReportSize is the fixed inbound HID report length (spec §4.2: only
// the first 9 bytes are meaningful).
const InboundReportSize = 16

// Device is the minimal surface the dispatcher needs from a HID connection.
// Production code gets one from Open; tests construct a fake directly.
type Device interface {
	// Write enqueues a ReportSize-byte outbound report. May block briefly.
	Write(report []byte) error
	// Read returns up to InboundReportSize bytes of the next inbound
	// report, or (nil, nil) on timeout. A closed device returns an error.
	Read(timeout time.Duration) ([]byte, error)
	// Close unblocks any in-flight Read and releases the device. Not
	// re-entrant.
	Close() error
}

// ErrDeviceUnavailable is returned by Open when no device matches
// VendorID/ProductID.
var ErrDeviceUnavailable = dalierr.ErrDeviceUnavailable
