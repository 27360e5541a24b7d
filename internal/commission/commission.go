// Package commission implements the DALI commissioning engine of spec
// §4.6: bus reset, binary-search enumeration of the 24-bit random
// search-address space, short-address assignment, and clash recovery.
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/brucejcooper/tridonic-dali-go/internal/dalicmd"
	"github.com/brucejcooper/tridonic-dali-go/internal/dalierr"
	"github.com/brucejcooper/tridonic-dali-go/internal/dispatch"
	"github.com/brucejcooper/tridonic-dali-go/internal/driver"
	"github.com/brucejcooper/tridonic-dali-go/internal/search"
)

// maxSearchAddress is the top of the 24-bit random search-address space.
const maxSearchAddress uint32 = 0xFFFFFF

// DefaultSettleDelay is how long the engine waits after Randomise for
// devices to generate a fresh random search address (spec §4.6 step 6: "at
// least 100ms").
const DefaultSettleDelay = 100 * time.Millisecond

// numShortAddresses is the size of the DALI short-address space (0..63).
const numShortAddresses = 64

// AssignedDevice is one device discovered and given a short address during
// a successful commission run.
type AssignedDevice struct {
	ShortAddress  byte
	SearchAddress uint32
}

// Engine drives the commissioning state machine against a Driver.
type Engine struct {
	drv         driver.API
	sender      *search.Sender
	logger      *log.Logger
	SettleDelay time.Duration

	// When true (the default set by New), a clash re-issues Randomise before
	// the search restarts; when false, the search restarts from 0 without
	// re-randomising. See DESIGN.md.
	ReRandomiseOnClash bool
}

// New builds an Engine around drv.
func New(drv driver.API, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		drv:                drv,
		sender:             search.New(drv),
		logger:             logger,
		SettleDelay:        DefaultSettleDelay,
		ReRandomiseOnClash: true,
	}
}

// Commission runs the full enumeration/assignment state machine. The
// post-phase Terminate always runs, even on error or ctx cancellation.
func (e *Engine) Commission(ctx context.Context) ([]AssignedDevice, error) {
	defer func() {
		if _, err := e.drv.SpecialCmd(dalicmd.Terminate, 0, 1); err != nil {
			e.logger.Warn("post-phase terminate failed", "err", err)
		}
	}()

	if _, err := e.drv.SpecialCmd(dalicmd.Terminate, 0, 1); err != nil {
		return nil, fmt.Errorf("commission: initial terminate: %w", err)
	}

	if err := e.resetBus(ctx); err != nil {
		return nil, err
	}

	var assigned []AssignedDevice
	searchFloor := uint32(0)
	available := make([]byte, numShortAddresses)
	for i := range available {
		available[i] = byte(i)
	}

	for {
		if err := ctx.Err(); err != nil {
			return assigned, err
		}

		found, ok, err := e.searchForDevice(searchFloor)
		if err != nil {
			if errors.Is(err, dalierr.ErrClash) {
				e.logger.Info("search address clash, restarting search", "floor", searchFloor)
				searchFloor = 0
				if e.ReRandomiseOnClash {
					if err := e.randomise(ctx); err != nil {
						return assigned, err
					}
				}
				continue
			}
			return assigned, err
		}
		if !ok {
			e.logger.Info("commissioning complete", "devices", len(assigned))
			return assigned, nil
		}

		if len(available) == 0 {
			return assigned, fmt.Errorf("commission: found device at 0x%06x but all 64 short addresses are in use", found)
		}
		shortAddr := available[0]
		available = available[1:]

		shifted := (shortAddr << 1) | 1
		if _, err := e.drv.SpecialCmd(dalicmd.ProgramShortAddress, shifted, 1); err != nil {
			return assigned, fmt.Errorf("commission: program short address: %w", err)
		}
		c, err := e.drv.SpecialCmd(dalicmd.QueryShortAddress, 0, 1)
		if err != nil {
			return assigned, fmt.Errorf("commission: query short address: %w", err)
		}
		if c.Kind != dispatch.CompletionResponse || c.Value != shifted {
			return assigned, fmt.Errorf("%w: wanted 0x%02x, got %+v", dalierr.ErrAssignmentFailure, shifted, c)
		}

		if _, err := e.drv.SpecialCmd(dalicmd.Withdraw, 0, 1); err != nil {
			return assigned, fmt.Errorf("commission: withdraw: %w", err)
		}

		e.logger.Info("assigned short address", "search_address", fmt.Sprintf("0x%06x", found), "short_address", shortAddr)
		assigned = append(assigned, AssignedDevice{ShortAddress: shortAddr, SearchAddress: found})
		searchFloor = found + 1
	}
}

// resetBus runs the pre-phase of spec §4.6 steps 2-6.
func (e *Engine) resetBus(ctx context.Context) error {
	if _, err := e.drv.SpecialCmd(dalicmd.Initialise, 0, 2); err != nil {
		return fmt.Errorf("commission: initialise: %w", err)
	}

	if _, err := e.drv.SpecialCmd(dalicmd.SetDTR0, 0xFF, 1); err != nil {
		return fmt.Errorf("commission: set dtr0: %w", err)
	}
	if _, err := e.drv.Broadcast(dalicmd.SetShortAddress, 2); err != nil {
		return fmt.Errorf("commission: clear short addresses: %w", err)
	}

	if _, err := e.drv.SpecialCmd(dalicmd.SetDTR0, 128, 1); err != nil {
		return fmt.Errorf("commission: set dtr0: %w", err)
	}
	if _, err := e.drv.Broadcast(dalicmd.SetOperatingMode, 2); err != nil {
		return fmt.Errorf("commission: reset operating mode: %w", err)
	}

	for g := 0; g < 16; g++ {
		cmd := dalicmd.Command(byte(dalicmd.RemoveFromGroup) | byte(g))
		if _, err := e.drv.Broadcast(cmd, 2); err != nil {
			return fmt.Errorf("commission: remove from group %d: %w", g, err)
		}
	}

	return e.randomise(ctx)
}

// randomise issues Randomise and waits SettleDelay for devices to pick a
// fresh random search address, resetting the search-sender cache per spec
// §4.5 ("reset the cache whenever the bus is re-randomised").
func (e *Engine) randomise(ctx context.Context) error {
	if _, err := e.drv.SpecialCmd(dalicmd.Randomise, 0, 2); err != nil {
		return fmt.Errorf("commission: randomise: %w", err)
	}
	e.sender.Reset()

	select {
	case <-time.After(e.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// searchForDevice performs the binary search of spec §4.6 over
// [start, 0xFFFFFF], returning the lowest participating search address.
// ok is false when no device responds at all; dalierr.ErrClash is returned
// when two devices have settled on the same address.
func (e *Engine) searchForDevice(start uint32) (found uint32, ok bool, err error) {
	low, high := start, maxSearchAddress
	for {
		mid := low + (high-low)/2
		res, err := e.compare(mid)
		if err != nil {
			return 0, false, err
		}

		if low == high {
			switch {
			case res == 1:
				return mid, true, nil
			case res >= 2:
				return 0, false, dalierr.ErrClash
			default:
				return 0, false, nil
			}
		}

		if res == 0 {
			low = mid + 1
		} else {
			high = mid
		}
	}
}

// compare issues a search-address update followed by a Compare special
// command, per spec §4.6.
func (e *Engine) compare(value uint32) (int, error) {
	if err := e.sender.Send(value); err != nil {
		return 0, fmt.Errorf("commission: send search address: %w", err)
	}

	c, err := e.drv.SpecialCmd(dalicmd.Compare, 0, 1)
	if err != nil {
		return 0, fmt.Errorf("commission: compare: %w", err)
	}

	switch c.Kind {
	case dispatch.CompletionResponse:
		if c.Value == 0xFF {
			return 1, nil
		}
		return 0, fmt.Errorf("%w: compare returned 0x%02x", dalierr.ErrProtocol, c.Value)
	case dispatch.CompletionAbsent:
		return 0, nil
	case dispatch.CompletionFraming:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: unexpected completion kind %v", dalierr.ErrProtocol, c.Kind)
	}
}
