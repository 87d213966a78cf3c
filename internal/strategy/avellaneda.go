package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"quoter_go/internal/domain"
)

// Params are externally computed Avellaneda-Stoikov limit-order offsets.
// DeltaA widens the ask, DeltaB widens the bid.
type Params struct {
	DeltaA float64
	DeltaB float64
}

// paramsFile mirrors the parameter file shape:
// {"limit_orders": {"delta_a": n, "delta_b": n}}
type paramsFile struct {
	LimitOrders *struct {
		DeltaA json.Number `json:"delta_a"`
		DeltaB json.Number `json:"delta_b"`
	} `json:"limit_orders"`
}

// PricerConfig holds the pricing engine's externally supplied knobs.
type PricerConfig struct {
	Symbol          string
	ParamsDir       string
	RefreshInterval time.Duration
	RequireParams   bool
	StaticSpread    float64
}

// Pricer turns a mid price into a limit price. It prefers model-provided
// offsets from the parameter file and falls back to a static symmetric
// spread; under strict-parameters mode it refuses to quote without valid
// parameters instead.
type Pricer struct {
	cfg PricerConfig

	cached      *Params
	lastRefresh time.Time

	nowFn func() time.Time
}

// NewPricer creates a pricing engine.
func NewPricer(cfg PricerConfig) *Pricer {
	return &Pricer{cfg: cfg, nowFn: time.Now}
}

// Price computes the limit price for the given side, or domain.ErrNoQuote
// when strict mode is on and no valid parameters exist.
func (p *Pricer) Price(mid float64, side domain.Side) (float64, error) {
	if params := p.load(); params != nil {
		if side == domain.SideBuy {
			return mid - params.DeltaB, nil
		}
		return mid + params.DeltaA, nil
	}

	if p.cfg.RequireParams {
		return 0, domain.ErrNoQuote
	}

	if side == domain.SideBuy {
		return mid * (1.0 - p.cfg.StaticSpread), nil
	}
	return mid * (1.0 + p.cfg.StaticSpread), nil
}

// load returns the cached parameters when fresh, otherwise re-reads the
// parameter file. Any validation failure invalidates the cache wholesale;
// parameters are never partially applied.
func (p *Pricer) load() *Params {
	now := p.nowFn()
	if p.cached != nil && now.Sub(p.lastRefresh) < p.cfg.RefreshInterval {
		return p.cached
	}

	p.cached = nil

	params, err := p.readFile()
	if err != nil {
		slog.Warn("quote parameters unavailable", "symbol", p.cfg.Symbol, "err", err)
		return nil
	}

	p.cached = params
	p.lastRefresh = now
	slog.Info("quote parameters loaded",
		"symbol", p.cfg.Symbol,
		"delta_a", params.DeltaA,
		"delta_b", params.DeltaB)
	return p.cached
}

// candidatePaths lists the parameter file locations in priority order; the
// first readable and valid one wins.
func (p *Pricer) candidatePaths() []string {
	name := fmt.Sprintf("avellaneda_parameters_%s.json", p.cfg.Symbol)
	return []string{
		filepath.Join(p.cfg.ParamsDir, name),
		filepath.Join("params", name),
		name,
		filepath.Join("TRADER", name),
	}
}

func (p *Pricer) readFile() (*Params, error) {
	var data []byte
	var readErr error
	for _, path := range p.candidatePaths() {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			readErr = err
			continue
		}
		data = b
		readErr = nil
		break
	}
	if data == nil {
		if readErr != nil {
			return nil, readErr
		}
		return nil, errors.New("parameter file not found")
	}

	var pf paramsFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if pf.LimitOrders == nil {
		return nil, errors.New("'limit_orders' missing")
	}

	da, errA := pf.LimitOrders.DeltaA.Float64()
	db, errB := pf.LimitOrders.DeltaB.Float64()
	if errA != nil || errB != nil {
		return nil, errors.New("delta_a/delta_b not numeric")
	}
	if !isFinite(da) || !isFinite(db) || da < 0 || db < 0 {
		return nil, errors.New("delta_a/delta_b invalid (NaN/Inf/negative)")
	}

	return &Params{DeltaA: da, DeltaB: db}, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
