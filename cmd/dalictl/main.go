// Command dalictl is a small CLI wrapping the DALI bus controller:
// commissioning, a one-shot scan of attached gear, and basic on/off/level
// control by short address.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/brucejcooper/tridonic-dali-go/internal/commission"
	"github.com/brucejcooper/tridonic-dali-go/internal/config"
	"github.com/brucejcooper/tridonic-dali-go/internal/dispatch"
	"github.com/brucejcooper/tridonic-dali-go/internal/driver"
	"github.com/brucejcooper/tridonic-dali-go/internal/gear"
	"github.com/brucejcooper/tridonic-dali-go/internal/productdb"
	"github.com/brucejcooper/tridonic-dali-go/internal/transport"
)

func main() {
	var configFile = pflag.StringP("config-file", "c", "", "Path to YAML configuration file.")
	var logLevel = pflag.StringP("log-level", "l", "", "Override the configured log level (debug, info, warn, error).")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: dalictl [flags] <command> [args]")
		fmt.Fprintln(os.Stderr, "commands: commission, scan, on <addr>, off <addr>, level <addr> <value>")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := log.New(os.Stderr)
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Log.Format == "json" {
		logger.SetFormatter(log.JSONFormatter)
	}

	if err := run(cfg, logger, pflag.Args()); err != nil {
		logger.Fatal(err)
	}
}

func run(cfg config.Config, logger *log.Logger, args []string) error {
	dev, err := transport.OpenIDs(cfg.HID.VendorID, cfg.HID.ProductID)
	if err != nil {
		return fmt.Errorf("dalictl: %w", err)
	}
	defer dev.Close()

	disp := dispatch.New(dev, logger)
	disp.SetTimeout(cfg.RequestTimeout)
	defer disp.Close()

	drv := driver.New(disp, logger)
	pdb := productdb.New(cfg.ProductDB.BaseURL, &http.Client{Timeout: cfg.ProductDB.Timeout})

	switch args[0] {
	case "commission":
		return runCommission(drv, logger, cfg)
	case "scan":
		return runScan(drv, logger, pdb)
	case "on":
		return runSetLevel(drv, pdb, args, func(g *gear.Gear) error { return g.On() })
	case "off":
		return runSetLevel(drv, pdb, args, func(g *gear.Gear) error { return g.Off() })
	case "level":
		return runLevel(drv, args)
	default:
		return fmt.Errorf("dalictl: unknown command %q", args[0])
	}
}

func runCommission(drv driver.API, logger *log.Logger, cfg config.Config) error {
	eng := commission.New(drv, logger)
	eng.SettleDelay = cfg.SettleDelay

	devices, err := eng.Commission(context.Background())
	if err != nil {
		return fmt.Errorf("dalictl: commission: %w", err)
	}
	for _, d := range devices {
		fmt.Printf("short=%d search=0x%06x\n", d.ShortAddress, d.SearchAddress)
	}
	return nil
}

func runScan(drv driver.API, logger *log.Logger, pdb *productdb.Client) error {
	devices, err := gear.Scan(context.Background(), drv, logger, pdb)
	if err != nil {
		return fmt.Errorf("dalictl: scan: %w", err)
	}
	for _, g := range devices {
		fmt.Printf("address=%d type=%s level=%d", g.Address, g.DeviceType, g.Level)
		if g.HasInfo {
			fmt.Printf(" id=%s fw=%s", g.Info.UniqueID(), g.Info.FirmwareVersion)
		}
		if g.HasProductRecord {
			fmt.Printf(" product=%q", g.ProductRecord.ProductName)
		}
		fmt.Println()
	}
	return nil
}

func parseAddress(args []string) (byte, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("dalictl: %s requires an address argument", args[0])
	}
	addr, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("dalictl: invalid address %q: %w", args[1], err)
	}
	return byte(addr), nil
}

func runSetLevel(drv driver.API, pdb *productdb.Client, args []string, op func(*gear.Gear) error) error {
	addr, err := parseAddress(args)
	if err != nil {
		return err
	}
	return op(gear.New(drv, nil, addr, pdb))
}

func runLevel(drv driver.API, args []string) error {
	addr, err := parseAddress(args)
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return fmt.Errorf("dalictl: level requires a value argument")
	}
	level, err := strconv.ParseUint(args[2], 10, 8)
	if err != nil {
		return fmt.Errorf("dalictl: invalid level %q: %w", args[2], err)
	}
	_, err = drv.DirectArcPower(addr, byte(level))
	return err
}
