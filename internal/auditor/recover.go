package auditor

import (
	"context"

	"github.com/rs/zerolog"

	"mint-auditor/internal/wallet"
)

// Recoverer applies local self-healing to known wallet desynchronization
// faults. It is a fixed, small lookup over two conditions, not an
// extensible error framework.
type Recoverer struct {
	batchSize int
	bumpBy    int
	logger    zerolog.Logger
}

// NewRecoverer builds a Recoverer with the configured invalidation batch
// size and keyset-counter increment.
func NewRecoverer(batchSize, bumpBy int, logger zerolog.Logger) *Recoverer {
	if batchSize <= 0 {
		batchSize = 50
	}
	if bumpBy <= 0 {
		bumpBy = 10
	}
	return &Recoverer{
		batchSize: batchSize,
		bumpBy:    bumpBy,
		logger:    logger.With().Str("component", "recoverer").Logger(),
	}
}

// Recover inspects err and, when it matches a known self-healable wallet
// fault, performs the corrective action against w. It reports whether the
// fault was handled locally; unhandled errors must surface as real failures.
func (r *Recoverer) Recover(ctx context.Context, w wallet.Provider, err error) bool {
	switch wallet.CodeOf(err) {
	case wallet.FaultSecretReused:
		// Stale secret-derivation counter: advance it so future proof
		// generation avoids the collision.
		r.logger.Warn().
			Str("mint", w.MintURL()).
			Err(err).
			Int("bump", r.bumpBy).
			Msg("outputs already signed, bumping keyset counter")
		if bumpErr := w.BumpKeysetCounter(ctx, r.bumpBy); bumpErr != nil {
			r.logger.Error().Err(bumpErr).Str("mint", w.MintURL()).Msg("keyset counter bump failed")
			return false
		}
		return true

	case wallet.FaultProofSpent:
		r.logger.Warn().
			Str("mint", w.MintURL()).
			Err(err).
			Msg("proofs already spent, invalidating wallet proofs")
		return r.invalidateAll(ctx, w)

	default:
		return false
	}
}

// invalidateAll checks the wallet's full proof set in batches, dropping the
// spent ones and releasing reservation on whatever remains spendable.
func (r *Recoverer) invalidateAll(ctx context.Context, w wallet.Provider) bool {
	proofs := w.Proofs()
	before := len(proofs)

	spendable := make([]wallet.Proof, 0, before)
	for start := 0; start < len(proofs); start += r.batchSize {
		end := min(start+r.batchSize, len(proofs))
		kept, err := w.Invalidate(ctx, proofs[start:end], true)
		if err != nil {
			r.logger.Error().Err(err).Str("mint", w.MintURL()).Msg("proof invalidation failed")
			return false
		}
		spendable = append(spendable, kept...)
	}

	if err := w.SetReserved(ctx, spendable, false); err != nil {
		r.logger.Error().Err(err).Str("mint", w.MintURL()).Msg("releasing proof reservation failed")
	}

	r.logger.Info().
		Str("mint", w.MintURL()).
		Int("invalidated", before-len(spendable)).
		Int("spendable", len(spendable)).
		Msg("wallet proofs reconciled")
	return true
}
