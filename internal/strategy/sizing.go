package strategy

import (
	"log/slog"

	"quoter_go/internal/domain"
)

// SizerConfig holds the size calculator's externally supplied knobs.
type SizerConfig struct {
	UseDynamicSizing bool
	BaseAmount       float64 // static fallback size
	CapitalUsage     float64 // fraction of usable capital committed per order
	SafetyMargin     float64 // fraction of capital held back
	MinNotionalUSD   float64 // below this a sell is skipped entirely
	MinSizeFloor     float64
}

// Sizer turns capital and inventory into an order size.
type Sizer struct {
	cfg SizerConfig
}

// NewSizer creates a size calculator.
func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size returns the order amount for the given side, or zero when this cycle
// should place no order.
//
// Buy sizes from available capital; Sell liquidates the whole position but
// only when its notional clears the minimum threshold, so dust never gets
// quoted.
func (s *Sizer) Size(side domain.Side, mid float64, capital domain.CapitalState, position domain.PositionState) float64 {
	if side == domain.SideSell {
		if position.Size <= 0 {
			slog.Info("sell side with no inventory, skipping cycle")
			return 0
		}
		notional := position.Notional(mid)
		if notional < s.cfg.MinNotionalUSD {
			slog.Info("position notional below minimum, skipping sell",
				"notional", notional, "min", s.cfg.MinNotionalUSD)
			return 0
		}
		return position.Size
	}

	if !s.cfg.UseDynamicSizing {
		return s.cfg.BaseAmount
	}
	if !capital.Valid || capital.Available <= 0 {
		slog.Warn("no available capital yet, using static base amount",
			"base_amount", s.cfg.BaseAmount)
		return s.cfg.BaseAmount
	}
	if mid <= 0 {
		slog.Warn("invalid mid price, using static base amount",
			"base_amount", s.cfg.BaseAmount)
		return s.cfg.BaseAmount
	}

	usable := capital.Available * (1 - s.cfg.SafetyMargin)
	orderCapital := usable * s.cfg.CapitalUsage
	amount := orderCapital / mid
	if amount < s.cfg.MinSizeFloor {
		amount = s.cfg.MinSizeFloor
	}
	slog.Info("dynamic sizing",
		"order_capital", orderCapital, "mid", mid, "amount", amount)
	return amount
}
