package transport

import (
	"fmt"
	"sync"
	"time"

	hid "github.com/sstallion/go-hid"
)

// hidDevice adapts github.com/sstallion/go-hid to Device.
type hidDevice struct {
	dev *hid.Device

	closeOnce sync.Once
	closeErr  error
}

var hidInitOnce sync.Once
var hidInitErr error

// Open acquires the bridge by VendorID/ProductID. Only one open device per
// process is supported, matching the "open/close is not re-entrant" policy
// of spec §5.
func Open() (Device, error) {
	return OpenIDs(VendorID, ProductID)
}

// OpenIDs is Open with an explicit vendor/product ID, for configurations
// that target a non-default bridge.
func OpenIDs(vendorID, productID uint16) (Device, error) {
	hidInitOnce.Do(func() { hidInitErr = hid.Init() })
	if hidInitErr != nil {
		return nil, fmt.Errorf("transport: hid init: %w", hidInitErr)
	}

	dev, err := hid.OpenFirst(vendorID, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &hidDevice{dev: dev}, nil
}

func (h *hidDevice) Write(report []byte) error {
	buf := make([]byte, ReportSize)
	copy(buf, report)
	_, err := h.dev.Write(buf)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (h *hidDevice) Read(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, InboundReportSize)
	n, err := h.dev.ReadWithTimeout(buf, int(timeout/time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	if n <= 0 {
		return nil, nil // timeout
	}
	return buf[:n], nil
}

func (h *hidDevice) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.dev.Close()
	})
	return h.closeErr
}
