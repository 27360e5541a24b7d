// Package frame implements the USB-HID wire codec for the Tridonic DALI
// bridge: encoding outbound 64-byte reports from (seq, kind, repeat,
// payload), and decoding inbound 16-byte reports into their meaningful
// first 9 bytes (spec §4.2).
package frame

import "fmt"

// Kind selects the wire encoding and repeat semantics of an outbound frame
// (spec §3 "Frame type").
type Kind byte

const (
	Short16 Kind = iota // 16-bit forward frame: address byte + command byte.
	Long24              // 24-bit extended frame: ext-command, address, command.
	Conf24              // same wire layout as Long24, flagged distinctly to the bridge.
)

func (k Kind) typeCode() (byte, error) {
	switch k {
	case Short16:
		return 0x03, nil
	case Long24:
		return 0x04, nil
	case Conf24:
		return 0x06, nil
	default:
		return 0, fmt.Errorf("frame: invalid kind %d", k)
	}
}

// Direction distinguishes which side of the bridge originated an inbound
// report.
type Direction byte

const (
	DALISide Direction = 0x11
	USBSide  Direction = 0x12
)

// Event is the terminal (or non-terminal) classification of an inbound
// report (spec §3 "Inbound report").
type Event byte

const (
	EventNoResponse   Event = 0x71
	EventResponse     Event = 0x72
	EventTxComplete   Event = 0x73
	EventBcastRecv    Event = 0x74
	EventFramingError Event = 0x77
)

// reportSize is the size of an outbound HID report. Everything past byte 7
// is padding and left zero.
const reportSize = 64

// outboundDirection is always USB-side: the host is the only frame
// originator this system ever encodes.
const outboundDirection byte = 0x12

// repeatFlag is set in byte 2 when the frame must be retransmitted once
// within the DALI 100ms dual-frame window (configuration commands).
const repeatFlag byte = 0x20

// Outbound is a frame the host is about to hand to the bridge.
type Outbound struct {
	Seq     byte
	Kind    Kind
	Repeat  int    // 1 (single) or 2 (send twice within 100ms).
	Payload uint32 // low 24 bits significant; semantics depend on Kind.
}

// Encode produces the 64-byte HID report for o, per the table in spec §4.2.
func (o Outbound) Encode() ([reportSize]byte, error) {
	var report [reportSize]byte

	typeCode, err := o.Kind.typeCode()
	if err != nil {
		return report, err
	}
	if o.Repeat != 1 && o.Repeat != 2 {
		return report, fmt.Errorf("frame: invalid repeat count %d", o.Repeat)
	}

	report[0] = outboundDirection
	report[1] = o.Seq
	if o.Repeat == 2 {
		report[2] = repeatFlag
	}
	report[3] = typeCode
	report[5] = byte(o.Payload >> 16)
	report[6] = byte(o.Payload >> 8)
	report[7] = byte(o.Payload)
	return report, nil
}

// Inbound is the decoded form of the first 9 bytes of a 16-byte inbound
// report (spec §3 "Inbound report", §4.2 "Inbound decoding").
type Inbound struct {
	Direction Direction
	Event     Event
	Ext       byte
	Address   byte
	Command   byte
	Seq       byte
}

// minInboundLen is the number of meaningful bytes in an inbound report;
// the remaining 7 bytes of the 16-byte report are unused here.
const minInboundLen = 9

// Decode parses report's first 9 bytes into an Inbound value. Status bytes
// 6-7 are an internal bridge status code of unknown meaning and are
// intentionally dropped (spec §4.2 "ignored").
func Decode(report []byte) (Inbound, error) {
	if len(report) < minInboundLen {
		return Inbound{}, fmt.Errorf("frame: short report (%d bytes, want >= %d)", len(report), minInboundLen)
	}
	return Inbound{
		Direction: Direction(report[0]),
		Event:     Event(report[1]),
		Ext:       report[3],
		Address:   report[4],
		Command:   report[5],
		Seq:       report[8],
	}, nil
}
