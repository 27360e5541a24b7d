// Package driver is the DALI driver façade of spec §4.4: it composes
// (address, command) tuples into the three DALI wire frame types and
// exposes the direct-arc-power, addressed command, broadcast, special
// command, and memory-read primitives that everything above it is built
// from.
package driver

import (
	"github.com/charmbracelet/log"

	"github.com/brucejcooper/tridonic-dali-go/internal/dalicmd"
	"github.com/brucejcooper/tridonic-dali-go/internal/dalierr"
	"github.com/brucejcooper/tridonic-dali-go/internal/dispatch"
	"github.com/brucejcooper/tridonic-dali-go/internal/frame"
)

// commandSelectorBit marks a SHORT16 payload as carrying an addressed
// command rather than a direct-arc-power level (spec §4.4).
const commandSelectorBit uint32 = 0x100

// API is the façade surface consumed by the commissioning engine and the
// higher-level gear package. Defined here, next to the implementation, so
// both can depend on an interface rather than the concrete Driver type.
type API interface {
	DirectArcPower(addr byte, level byte) (dispatch.Completion, error)
	SendCmd(addr byte, cmd dalicmd.Command, repeat int) (dispatch.Completion, error)
	SpecialCmd(cmd dalicmd.Special, param byte, repeat int) (dispatch.Completion, error)
	SendSpecial(cmd dalicmd.Special, param byte) error
	Broadcast(cmd dalicmd.Command, repeat int) (dispatch.Completion, error)
	StartQuiescent() (dispatch.Completion, error)
	StopQuiescent() (dispatch.Completion, error)
	ReadMemory(addr byte, bank, offset byte, n int) ([]byte, error)
}

var _ API = (*Driver)(nil)

// Driver composes DALI frames and submits them through a Dispatcher.
type Driver struct {
	disp   *dispatch.Dispatcher
	logger *log.Logger
}

// New wraps disp in a Driver.
func New(disp *dispatch.Dispatcher, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{disp: disp, logger: logger}
}

func (d *Driver) send(payload uint32, kind frame.Kind, repeat int) (dispatch.Completion, error) {
	if repeat == 0 {
		repeat = 1
	}
	return d.disp.Submit(frame.Outbound{Kind: kind, Repeat: repeat, Payload: payload})
}

// DirectArcPower sets addr's output level directly: payload (addr<<9)|level.
// addr is the 7-bit selector (short address 0..63, group 0..15 with the
// group-selector bit, or dalicmd.Broadcast).
func (d *Driver) DirectArcPower(addr byte, level byte) (dispatch.Completion, error) {
	return d.send(uint32(addr)<<9|uint32(level), frame.Short16, 1)
}

// SendCmd issues an addressed command (the command-selector bit set).
func (d *Driver) SendCmd(addr byte, cmd dalicmd.Command, repeat int) (dispatch.Completion, error) {
	return d.send(uint32(addr)<<9|commandSelectorBit|uint32(cmd), frame.Short16, repeat)
}

// SpecialCmd issues a special command; the opcode occupies the address byte.
func (d *Driver) SpecialCmd(cmd dalicmd.Special, param byte, repeat int) (dispatch.Completion, error) {
	return d.send(uint32(cmd)<<8|uint32(param), frame.Short16, repeat)
}

// SendSpecial implements search.SpecialSender: a fire-and-forget special
// command sent once, errors other than an absent/response distinction
// propagated.
func (d *Driver) SendSpecial(cmd dalicmd.Special, param byte) error {
	_, err := d.SpecialCmd(cmd, param, 1)
	return err
}

// Broadcast issues cmd to every device on the bus.
func (d *Driver) Broadcast(cmd dalicmd.Command, repeat int) (dispatch.Completion, error) {
	return d.send(uint32(dalicmd.Broadcast)<<9|commandSelectorBit|uint32(cmd), frame.Short16, repeat)
}

// startQuiescentPayload and stopQuiescentPayload are the fixed CONF24
// payloads for entering/leaving quiescent mode (spec §4.4).
const (
	startQuiescentPayload uint32 = 0xFFFE1D
	stopQuiescentPayload  uint32 = 0xFFFE1E
)

// StartQuiescent suppresses application-layer reporting during
// commissioning.
func (d *Driver) StartQuiescent() (dispatch.Completion, error) {
	return d.send(startQuiescentPayload, frame.Conf24, 2)
}

// StopQuiescent restores normal application-layer reporting.
func (d *Driver) StopQuiescent() (dispatch.Completion, error) {
	return d.send(stopQuiescentPayload, frame.Conf24, 2)
}

// ReadMemory stages bank into DTR1 and offset into DTR0, then issues n
// ReadMemoryLocation commands to addr, returning the concatenated
// responses. Fails with dalierr.ErrMemoryRead if any individual response is
// absent.
func (d *Driver) ReadMemory(addr byte, bank, offset byte, n int) ([]byte, error) {
	if _, err := d.SpecialCmd(dalicmd.SetDTR1, bank, 1); err != nil {
		return nil, err
	}
	if _, err := d.SpecialCmd(dalicmd.SetDTR0, offset, 1); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		c, err := d.SendCmd(addr, dalicmd.ReadMemoryLocation, 1)
		if err != nil {
			return nil, err
		}
		if c.Kind != dispatch.CompletionResponse {
			return nil, dalierr.Wrap("read_memory: no response from device", dalierr.ErrMemoryRead)
		}
		buf = append(buf, c.Value)
	}
	return buf, nil
}
