// Package gear implements the DALI gear façade of spec §4.7: per-device
// high-level operations (on/off/min/max/brighten/dim/toggle) and the
// memory-bank-0 identity read that Scan runs for each device it finds.
package gear

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/brucejcooper/tridonic-dali-go/internal/dalicmd"
	"github.com/brucejcooper/tridonic-dali-go/internal/dispatch"
	"github.com/brucejcooper/tridonic-dali-go/internal/driver"
	"github.com/brucejcooper/tridonic-dali-go/internal/productdb"
)

// Type names a DALI control gear category, as answered by QueryDeviceType.
type Type byte

const (
	TypeFluorescent       Type = 0
	TypeEmergencyLighting Type = 1
	TypeHID               Type = 2
	TypeLowVoltageHalogen Type = 3
	TypeIncandescent      Type = 4
	TypeDCDimmer          Type = 5
	TypeLED               Type = 6
	TypeRelay             Type = 7
	TypeColour            Type = 8
)

var typeNames = map[Type]string{
	TypeFluorescent:       "fluorescent lamp",
	TypeEmergencyLighting: "emergency lighting",
	TypeHID:               "HID lamp",
	TypeLowVoltageHalogen: "low voltage halogen lamp",
	TypeIncandescent:      "incandescent lamp dimmer",
	TypeDCDimmer:          "dc-controlled dimmer",
	TypeLED:               "LED lamp",
	TypeRelay:             "relay",
	TypeColour:            "colour",
}

// String falls back to the raw numeric type for any code outside the known
// table (spec §4.7: unrecognised types must not be treated as errors).
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// Fade holds the decoded fade-time/fade-rate nibbles of
// dalicmd.QueryFadeTimeRate (spec §4.7): Time 0 is "<0.7s", each step
// roughly doubling to 15 ("90.5s"); Rate 1 is the fastest (358 steps/sec),
// 15 the slowest (2.8 steps/sec).
type Fade struct {
	Time byte
	Rate byte
}

// Info is the identity block read from memory bank 0 during Scan/FetchInfo
// (spec §4.7): GTIN and serial together are globally unique per the DALI
// Alliance's device registry.
type Info struct {
	LastMemoryBank  byte
	GTIN            uint64
	FirmwareVersion string
	Serial          string
	HardwareVersion string
	DALIVersion     byte
}

// UniqueID is the combination DALI defines as a globally unique, immutable
// device identity.
func (i Info) UniqueID() string {
	return fmt.Sprintf("%012x-%s", i.GTIN, i.Serial)
}

// Gear is one addressed DALI control gear and the last state read from it.
type Gear struct {
	drv     driver.API
	logger  *log.Logger
	pdb     *productdb.Client
	Address byte

	DeviceType Type
	HasInfo    bool
	Info       Info
	Level      byte
	Groups     uint16
	MinLevel   byte
	MaxLevel   byte

	HasProductRecord bool
	ProductRecord    productdb.Record
}

// New wraps addr as a Gear driven through drv. pdb is optional: when nil,
// FetchInfo skips the product-database lookup and leaves ProductRecord
// unset.
func New(drv driver.API, logger *log.Logger, addr byte, pdb *productdb.Client) *Gear {
	if logger == nil {
		logger = log.Default()
	}
	return &Gear{drv: drv, logger: logger, pdb: pdb, Address: addr}
}

// Scan probes every short address 0..63 for a responding device-type query
// and returns a Gear, with FetchInfo already run, for each one that
// answers (spec §4.7).
func Scan(ctx context.Context, drv driver.API, logger *log.Logger, pdb *productdb.Client) ([]*Gear, error) {
	var found []*Gear
	for addr := byte(0); addr < 64; addr++ {
		g := New(drv, logger, addr, pdb)
		c, err := drv.SendCmd(addr, dalicmd.QueryDeviceType, 1)
		if err != nil {
			return found, fmt.Errorf("gear: scan address %d: %w", addr, err)
		}
		if c.Kind != dispatch.CompletionResponse {
			continue
		}
		g.DeviceType = Type(c.Value)
		if err := g.FetchInfo(ctx); err != nil {
			logger.Warn("scan: fetch info failed", "address", addr, "err", err)
		}
		found = append(found, g)
	}
	return found, nil
}

func (g *Gear) sendCmd(cmd dalicmd.Command) (dispatch.Completion, error) {
	return g.drv.SendCmd(g.Address, cmd, 1)
}

// queryByte issues cmd and returns its response byte, or ok=false if the
// device didn't answer.
func (g *Gear) queryByte(cmd dalicmd.Command) (byte, bool, error) {
	c, err := g.sendCmd(cmd)
	if err != nil {
		return 0, false, err
	}
	return c.Value, c.Kind == dispatch.CompletionResponse, nil
}

// FetchInfo reads groups, min/max levels, and 20 bytes of memory bank 0
// starting at offset 2, then refreshes Level (spec §4.7). Layout of the
// 20 bytes read: byte 0 last memory bank, 1-6 GTIN (big-endian), 7-8
// firmware major/minor, 9-16 serial, 17-18 hardware major/minor, 19 DALI
// version.
func (g *Gear) FetchInfo(ctx context.Context) error {
	groups0, err := g.driverQuery(dalicmd.QueryGroups0to7)
	if err != nil {
		return err
	}
	groups1, err := g.driverQuery(dalicmd.QueryGroups8to15)
	if err != nil {
		return err
	}
	g.Groups = uint16(groups1)<<8 | uint16(groups0)

	// QueryMaxLevel maps to MaxLevel and QueryMinLevel to MinLevel; an
	// earlier revision had these swapped.
	maxLevel, err := g.driverQuery(dalicmd.QueryMaxLevel)
	if err != nil {
		return err
	}
	minLevel, err := g.driverQuery(dalicmd.QueryMinLevel)
	if err != nil {
		return err
	}
	g.MaxLevel, g.MinLevel = maxLevel, minLevel

	buf, err := g.drv.ReadMemory(g.Address, 0, 2, 20)
	if err != nil {
		return fmt.Errorf("gear: read memory bank 0: %w", err)
	}
	if len(buf) < 20 {
		return fmt.Errorf("gear: short memory bank 0 read: got %d bytes", len(buf))
	}

	var gtinBuf [8]byte
	copy(gtinBuf[2:], buf[1:7])
	g.Info = Info{
		LastMemoryBank:  buf[0],
		GTIN:            binary.BigEndian.Uint64(gtinBuf[:]),
		FirmwareVersion: fmt.Sprintf("%d.%d", buf[7], buf[8]),
		Serial: fmt.Sprintf("%02x%02x%02x%02x%02x.%02x%02x%02x",
			buf[13], buf[12], buf[11], buf[10], buf[9], buf[16], buf[15], buf[14]),
		HardwareVersion: fmt.Sprintf("%d.%d", buf[17], buf[18]),
		DALIVersion:     buf[19],
	}
	g.HasInfo = true

	if g.pdb != nil {
		rec, err := g.pdb.Fetch(ctx, g.Info.GTIN)
		if err != nil {
			g.logger.Warn("product database lookup failed", "address", g.Address, "gtin", g.Info.GTIN, "err", err)
		} else {
			g.ProductRecord, g.HasProductRecord = rec, true
		}
	}

	_, err = g.GetLevel()
	return err
}

// driverQuery is FetchInfo's helper for queries it treats as fatal when
// unanswered (unlike the tolerant Scan probe).
func (g *Gear) driverQuery(cmd dalicmd.Command) (byte, error) {
	v, ok, err := g.queryByte(cmd)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("gear: %s: no response", cmd)
	}
	return v, nil
}

// GetLevel re-queries and caches the actual output level.
func (g *Gear) GetLevel() (byte, error) {
	v, ok, err := g.queryByte(dalicmd.QueryActualLevel)
	if err != nil {
		return 0, err
	}
	if ok {
		g.Level = v
	}
	return g.Level, nil
}

// On recalls the last active level; GoToLastActiveLevel is used instead of
// the ON command because some LED ballasts ignore the latter.
func (g *Gear) On() error {
	if _, err := g.sendCmd(dalicmd.GoToLastActiveLevel); err != nil {
		return err
	}
	_, err := g.GetLevel()
	return err
}

// Off turns the gear off and optimistically sets Level to 0.
func (g *Gear) Off() error {
	if _, err := g.sendCmd(dalicmd.Off); err != nil {
		return err
	}
	g.Level = 0
	return nil
}

// Max recalls the device's configured maximum level.
func (g *Gear) Max() error {
	if _, err := g.sendCmd(dalicmd.RecallMaxLevel); err != nil {
		return err
	}
	_, err := g.GetLevel()
	return err
}

// Min recalls the device's configured minimum level.
func (g *Gear) Min() error {
	if _, err := g.sendCmd(dalicmd.RecallMinLevel); err != nil {
		return err
	}
	_, err := g.GetLevel()
	return err
}

// Brighten issues one dimming step up.
func (g *Gear) Brighten() error {
	if _, err := g.sendCmd(dalicmd.Up); err != nil {
		return err
	}
	_, err := g.GetLevel()
	return err
}

// Dim issues one dimming step down.
func (g *Gear) Dim() error {
	if _, err := g.sendCmd(dalicmd.Down); err != nil {
		return err
	}
	_, err := g.GetLevel()
	return err
}

// Toggle turns the gear off if it's currently on, on otherwise.
func (g *Gear) Toggle() error {
	level, err := g.GetLevel()
	if err != nil {
		return err
	}
	if level == 0 {
		return g.On()
	}
	return g.Off()
}

// QueryFade reads the device's fade time/rate nibble pair.
func (g *Gear) QueryFade() (Fade, error) {
	v, err := g.driverQuery(dalicmd.QueryFadeTimeRate)
	if err != nil {
		return Fade{}, err
	}
	return Fade{Time: v >> 4, Rate: v & 0x0f}, nil
}

// QueryPowerOnLevel returns the level the device restores at power-up.
func (g *Gear) QueryPowerOnLevel() (byte, error) {
	return g.driverQuery(dalicmd.QueryPowerOnLevel)
}

// SetPowerOnLevel stages level into DTR0 and issues SetPowerOnLevel twice,
// as DALI requires the command to arrive twice within 100ms with no
// intervening configuration command (spec §4.7).
func (g *Gear) SetPowerOnLevel(level byte) error {
	if err := g.drv.SendSpecial(dalicmd.SetDTR0, level); err != nil {
		return err
	}
	if _, err := g.sendCmd(dalicmd.SetPowerOnLevel); err != nil {
		return err
	}
	_, err := g.sendCmd(dalicmd.SetPowerOnLevel)
	return err
}
