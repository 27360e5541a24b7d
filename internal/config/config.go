// Package config loads dalictl's YAML configuration file: HID device
// overrides, bus timing, logging, and the product database endpoint.
// Anything absent from the file falls back to spec-defined defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brucejcooper/tridonic-dali-go/internal/productdb"
	"github.com/brucejcooper/tridonic-dali-go/internal/transport"
)

// Config is the root of dalictl's YAML configuration document.
type Config struct {
	HID          HID           `yaml:"hid"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	Log          Log           `yaml:"log"`
	ProductDB    ProductDB     `yaml:"product_db"`
}

// HID overrides the vendor/product ID of the bridge dongle to open.
type HID struct {
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ProductDB configures the DALI Alliance lookup client.
type ProductDB struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is supplied or a
// field is left zero-valued, matching the bus constants of §4.1/§4.3.
func Default() Config {
	return Config{
		HID: HID{
			VendorID:  transport.VendorID,
			ProductID: transport.ProductID,
		},
		RequestTimeout: 200 * time.Millisecond,
		SettleDelay:    100 * time.Millisecond,
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		ProductDB: ProductDB{
			BaseURL: productdb.DefaultBaseURL,
			Timeout: productdb.DefaultTimeout,
		},
	}
}

// Load reads and parses the YAML file at path, filling any zero-valued
// field from Default(). A missing path is not an error: Load returns
// Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	mergeDefaults(&parsed, cfg)
	return parsed, nil
}

// mergeDefaults fills every zero-valued field of parsed from defaults.
func mergeDefaults(parsed *Config, defaults Config) {
	if parsed.HID.VendorID == 0 {
		parsed.HID.VendorID = defaults.HID.VendorID
	}
	if parsed.HID.ProductID == 0 {
		parsed.HID.ProductID = defaults.HID.ProductID
	}
	if parsed.RequestTimeout == 0 {
		parsed.RequestTimeout = defaults.RequestTimeout
	}
	if parsed.SettleDelay == 0 {
		parsed.SettleDelay = defaults.SettleDelay
	}
	if parsed.Log.Level == "" {
		parsed.Log.Level = defaults.Log.Level
	}
	if parsed.Log.Format == "" {
		parsed.Log.Format = defaults.Log.Format
	}
	if parsed.ProductDB.BaseURL == "" {
		parsed.ProductDB.BaseURL = defaults.ProductDB.BaseURL
	}
	if parsed.ProductDB.Timeout == 0 {
		parsed.ProductDB.Timeout = defaults.ProductDB.Timeout
	}
}
