package ble

import (
	"fmt"
	"time"
)

// Mode is the advertising duty cycle.
type Mode int

const (
	ModeLowPower Mode = iota
	ModeBalanced
	ModeLowLatency
)

// TxPower is the advertising transmit power level.
type TxPower int

const (
	TxPowerLow TxPower = iota
	TxPowerMedium
	TxPowerHigh
)

// AdvertisingConfig is fixed for one advertising session. Changing it
// requires a stop followed by a start.
type AdvertisingConfig struct {
	Mode        Mode
	TxPower     TxPower
	Connectable bool
}

// DefaultAdvertisingConfig matches what a mesh chat peer needs to be found
// quickly: low latency, high power, connectable.
func DefaultAdvertisingConfig() AdvertisingConfig {
	return AdvertisingConfig{
		Mode:        ModeLowLatency,
		TxPower:     TxPowerHigh,
		Connectable: true,
	}
}

// Validate rejects out-of-range modes and power levels.
func (c AdvertisingConfig) Validate() error {
	switch c.Mode {
	case ModeLowPower, ModeBalanced, ModeLowLatency:
	default:
		return fmt.Errorf("%w: unknown advertise mode %d", ErrInvalidConfig, int(c.Mode))
	}
	switch c.TxPower {
	case TxPowerLow, TxPowerMedium, TxPowerHigh:
	default:
		return fmt.Errorf("%w: unknown tx power %d", ErrInvalidConfig, int(c.TxPower))
	}
	return nil
}

// Interval returns the advertising interval for the mode.
func (m Mode) Interval() time.Duration {
	switch m {
	case ModeLowLatency:
		return 100 * time.Millisecond
	case ModeBalanced:
		return 250 * time.Millisecond
	default:
		return time.Second
	}
}

func (m Mode) String() string {
	switch m {
	case ModeLowPower:
		return "low-power"
	case ModeBalanced:
		return "balanced"
	case ModeLowLatency:
		return "low-latency"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses the config spelling of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "low-power":
		return ModeLowPower, nil
	case "balanced":
		return ModeBalanced, nil
	case "low-latency":
		return ModeLowLatency, nil
	}
	return 0, fmt.Errorf("%w: advertise mode must be low-power, balanced, or low-latency, got %q", ErrInvalidConfig, s)
}

// DBm returns the nominal radiated power for the level.
func (p TxPower) DBm() int {
	switch p {
	case TxPowerHigh:
		return 1
	case TxPowerMedium:
		return -7
	default:
		return -15
	}
}

func (p TxPower) String() string {
	switch p {
	case TxPowerLow:
		return "low"
	case TxPowerMedium:
		return "medium"
	case TxPowerHigh:
		return "high"
	default:
		return fmt.Sprintf("txpower(%d)", int(p))
	}
}

// ParseTxPower parses the config spelling of a TxPower.
func ParseTxPower(s string) (TxPower, error) {
	switch s {
	case "low":
		return TxPowerLow, nil
	case "medium":
		return TxPowerMedium, nil
	case "high":
		return TxPowerHigh, nil
	}
	return 0, fmt.Errorf("%w: tx power must be low, medium, or high, got %q", ErrInvalidConfig, s)
}
