// Package search implements the SearchAddressSender of spec §4.5: it caches
// the last 24-bit search address sent to the bus and retransmits only the
// bytes that changed, halving typical commissioning traffic.
package search

import "github.com/brucejcooper/tridonic-dali-go/internal/dalicmd"

// Sender issues SearchAddrH/M/L special commands through SpecialSender,
// skipping any byte position that hasn't changed since the last Send.
type Sender struct {
	send func(cmd dalicmd.Special, param byte) error

	haveH, haveM, haveL   bool
	lastH, lastM, lastL byte
}

// SpecialSender is the subset of the driver façade (driver.API) a Sender
// needs to issue special commands. Kept narrow so tests can supply a
// simple fake.
type SpecialSender interface {
	SendSpecial(cmd dalicmd.Special, param byte) error
}

// New builds a Sender that issues special commands through driver.
func New(driver SpecialSender) *Sender {
	return &Sender{send: driver.SendSpecial}
}

// Send decomposes addr into H/M/L bytes and issues a special command for
// each byte that differs from the cached value (or hasn't been sent yet),
// in L, M, H order (spec §4.5).
func (s *Sender) Send(addr uint32) error {
	l := byte(addr)
	m := byte(addr >> 8)
	h := byte(addr >> 16)

	if !s.haveL || l != s.lastL {
		if err := s.send(dalicmd.SearchAddrL, l); err != nil {
			return err
		}
		s.lastL, s.haveL = l, true
	}
	if !s.haveM || m != s.lastM {
		if err := s.send(dalicmd.SearchAddrM, m); err != nil {
			return err
		}
		s.lastM, s.haveM = m, true
	}
	if !s.haveH || h != s.lastH {
		if err := s.send(dalicmd.SearchAddrH, h); err != nil {
			return err
		}
		s.lastH, s.haveH = h, true
	}
	return nil
}

// Reset clears the cache, forcing the next Send to transmit all three
// bytes. Call this whenever the bus is re-randomised (spec §4.5).
func (s *Sender) Reset() {
	s.haveH, s.haveM, s.haveL = false, false, false
}
