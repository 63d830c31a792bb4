package auditor

import (
	"errors"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"mint-auditor/internal/storage"
)

var (
	// ErrNoEligibleMint means no destination or source currently qualifies;
	// not a wallet fault, just no beneficial rebalance right now.
	ErrNoEligibleMint = errors.New("auditor: no eligible mint")
	// ErrInvalidRange means the drawable amount range is empty because the
	// usable maximum fell below the configured minimum.
	ErrInvalidRange = errors.New("auditor: amount range is empty")
)

// SelectorConfig bounds amount draws and source eligibility.
type SelectorConfig struct {
	MinAmount           int64
	MaxAmount           int64
	MinBalanceThreshold int64
	ReserveRatio        float64
}

// WeightFunc scores a destination candidate; higher is more likely. A nil
// weight means uniform selection.
type WeightFunc func(storage.Mint) float64

// DeficitWeight favours mints with the largest relative deficit. Kept
// pluggable and unused by default.
func DeficitWeight(m storage.Mint) float64 {
	if m.SumDonations <= 0 || m.Balance <= 0 {
		return 0
	}
	return float64(m.SumDonations-m.Balance) / float64(m.SumDonations)
}

// Selector chooses swap endpoints and amounts from the current mint set.
type Selector struct {
	cfg     SelectorConfig
	reserve decimal.Decimal
	weight  WeightFunc
	rng     *rand.Rand
}

// NewSelector builds a Selector. weight may be nil for uniform selection.
func NewSelector(cfg SelectorConfig, weight WeightFunc) *Selector {
	return &Selector{
		cfg:     cfg,
		reserve: decimal.NewFromFloat(cfg.ReserveRatio),
		weight:  weight,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// ChooseToMint picks a destination mint needing funds: healthy (or nearly
// drained) and under-funded relative to what it has ever received.
func (s *Selector) ChooseToMint(mints []storage.Mint) (storage.Mint, error) {
	eligible := make([]storage.Mint, 0, len(mints))
	for _, m := range mints {
		if m.State != storage.MintStateOK && m.Balance >= s.cfg.MinBalanceThreshold {
			continue
		}
		if m.Balance >= m.SumDonations {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return storage.Mint{}, ErrNoEligibleMint
	}

	if s.weight != nil {
		if picked, ok := s.pickWeighted(eligible); ok {
			return picked, nil
		}
	}
	return eligible[s.rng.IntN(len(eligible))], nil
}

// ChooseFromMintAndAmount picks a source mint and the amount to move toward
// toMint. The draw is uniform over [MinAmount, maxAmount] inclusive, where
// maxAmount caps at the destination's deficit, the richest candidate's
// balance, and MaxAmount. Sources must keep a working-capital reserve: only
// candidates with balance * ReserveRatio >= amount qualify.
func (s *Selector) ChooseFromMintAndAmount(toMint storage.Mint, mints []storage.Mint) (storage.Mint, int64, error) {
	candidates := make([]storage.Mint, 0, len(mints))
	for _, m := range mints {
		if m.URL != toMint.URL {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return storage.Mint{}, 0, ErrNoEligibleMint
	}

	maxReceivable := toMint.Deficit()
	if maxReceivable < s.cfg.MinAmount {
		maxReceivable = s.cfg.MinAmount
	}

	richest := candidates[0]
	for _, m := range candidates[1:] {
		if m.Balance > richest.Balance {
			richest = m
		}
	}

	maxAmount := min(maxReceivable, richest.Balance, s.cfg.MaxAmount)
	if maxAmount < s.cfg.MinAmount {
		return storage.Mint{}, 0, ErrInvalidRange
	}

	amount := s.cfg.MinAmount + s.rng.Int64N(maxAmount-s.cfg.MinAmount+1)

	amountDec := decimal.NewFromInt(amount)
	funded := candidates[:0]
	for _, m := range candidates {
		if decimal.NewFromInt(m.Balance).Mul(s.reserve).GreaterThanOrEqual(amountDec) {
			funded = append(funded, m)
		}
	}
	if len(funded) == 0 {
		return storage.Mint{}, 0, ErrNoEligibleMint
	}

	return funded[s.rng.IntN(len(funded))], amount, nil
}

func (s *Selector) pickWeighted(mints []storage.Mint) (storage.Mint, bool) {
	var total float64
	weights := make([]float64, len(mints))
	for i, m := range mints {
		w := s.weight(m)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return storage.Mint{}, false
	}

	target := s.rng.Float64() * total
	for i, w := range weights {
		target -= w
		if target < 0 {
			return mints[i], true
		}
	}
	return mints[len(mints)-1], true
}
