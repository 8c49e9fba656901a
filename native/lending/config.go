package lending

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"isolend/crypto"
)

// Config captures the runtime configuration for the lending module.
type Config struct {
	Owner   string            `toml:"Owner"`
	Custody string            `toml:"Custody"`
	Auction AuctionParams     `toml:"auction"`
	Assets  []AssetFactorSpec `toml:"assets"`
	Paused  []string          `toml:"Paused"`
}

// AuctionParams is the file form of AuctionConfig.
type AuctionParams struct {
	MinDiscountBps uint64 `toml:"MinDiscountBps"`
	MaxDiscountBps uint64 `toml:"MaxDiscountBps"`
	Duration       string `toml:"Duration"`
}

// AssetFactorSpec seeds the risk registry at bootstrap.
type AssetFactorSpec struct {
	Asset               string `toml:"Asset"`
	DebtWeightBps       uint64 `toml:"DebtWeightBps"`
	CollateralFactorBps uint64 `toml:"CollateralFactorBps"`
}

// LoadConfig decodes the module configuration from a TOML file. An empty path
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("lending config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("lending config: unknown field %s", undecoded[0].String())
		}
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDefaults fills unset auction parameters.
func (c *Config) EnsureDefaults() {
	defaults := DefaultAuctionConfig()
	if c.Auction.MinDiscountBps == 0 && c.Auction.MaxDiscountBps == 0 {
		c.Auction.MinDiscountBps = defaults.MinDiscountBps
		c.Auction.MaxDiscountBps = defaults.MaxDiscountBps
	}
	if strings.TrimSpace(c.Auction.Duration) == "" {
		c.Auction.Duration = defaults.Duration.String()
	}
	if c.Custody == "" {
		c.Custody = crypto.AddressFromSeed(crypto.AccountPrefix, "lending/custody").String()
	}
}

// Validate checks addresses, the discount curve and the seeded factors.
func (c *Config) Validate() error {
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	if _, err := c.CustodyAddress(); err != nil {
		return err
	}
	if _, err := c.AuctionConfig(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i, spec := range c.Assets {
		asset, err := crypto.DecodeAddressWithPrefix(spec.Asset, crypto.AssetPrefix)
		if err != nil {
			return fmt.Errorf("lending config: assets[%d]: %w", i, err)
		}
		if spec.DebtWeightBps == 0 || spec.CollateralFactorBps == 0 {
			return fmt.Errorf("lending config: assets[%d]: %w", i, ErrInvalidRiskFactor)
		}
		if _, dup := seen[asset.Hex()]; dup {
			return fmt.Errorf("lending config: assets[%d]: duplicate asset %s", i, spec.Asset)
		}
		seen[asset.Hex()] = struct{}{}
	}
	return nil
}

// OwnerAddress decodes the configured administrator.
func (c *Config) OwnerAddress() (crypto.Address, error) {
	owner, err := crypto.DecodeAddressWithPrefix(c.Owner, crypto.AccountPrefix)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("lending config: owner: %w", err)
	}
	return owner, nil
}

// CustodyAddress decodes the custody account.
func (c *Config) CustodyAddress() (crypto.Address, error) {
	custody, err := crypto.DecodeAddressWithPrefix(c.Custody, crypto.AccountPrefix)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("lending config: custody: %w", err)
	}
	return custody, nil
}

// AuctionConfig converts the file parameters into a validated curve.
func (c *Config) AuctionConfig() (AuctionConfig, error) {
	duration, err := time.ParseDuration(strings.TrimSpace(c.Auction.Duration))
	if err != nil {
		return AuctionConfig{}, fmt.Errorf("lending config: auction duration: %w", err)
	}
	cfg := AuctionConfig{
		MinDiscountBps: c.Auction.MinDiscountBps,
		MaxDiscountBps: c.Auction.MaxDiscountBps,
		Duration:       duration,
	}
	if err := cfg.Validate(); err != nil {
		return AuctionConfig{}, err
	}
	return cfg, nil
}
