package auditor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mint-auditor/internal/wallet"
)

// Maintainer covers the housekeeping around the swap loop: keeping ledger
// balances and mint metadata fresh, and clearing proof reservations left
// behind by an interrupted run.
type Maintainer struct {
	ledger  Ledger
	wallets wallet.Dialer
	logger  zerolog.Logger
}

func NewMaintainer(ledger Ledger, wallets wallet.Dialer, logger zerolog.Logger) *Maintainer {
	return &Maintainer{
		ledger:  ledger,
		wallets: wallets,
		logger:  logger.With().Str("component", "maintainer").Logger(),
	}
}

// RefreshBalances reloads every mint's proof set and writes the spendable
// balance to the ledger. Per-mint failures are logged and skipped so one
// unreachable mint does not starve the rest.
func (m *Maintainer) RefreshBalances(ctx context.Context) error {
	mints, err := m.ledger.ListMints(ctx)
	if err != nil {
		return fmt.Errorf("list mints: %w", err)
	}
	for _, mint := range mints {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, err := m.wallets.Wallet(ctx, mint.URL)
		if err != nil {
			m.logger.Warn().Err(err).Str("mint", mint.URL).Msg("balance refresh: wallet unavailable")
			continue
		}
		if err := w.LoadProofs(ctx, true); err != nil {
			m.logger.Warn().Err(err).Str("mint", mint.URL).Msg("balance refresh: proof reload failed")
			continue
		}
		balance := w.AvailableBalance()
		if err := m.ledger.UpdateMintBalance(ctx, mint.ID, balance); err != nil {
			m.logger.Error().Err(err).Str("mint", mint.URL).Msg("balance refresh: ledger write failed")
			continue
		}
		m.logger.Debug().Str("mint", mint.URL).Int64("balance", balance).Msg("balance refreshed")
	}
	return nil
}

// RefreshMintInfos reloads every mint's self-reported descriptor into the
// ledger.
func (m *Maintainer) RefreshMintInfos(ctx context.Context) error {
	mints, err := m.ledger.ListMints(ctx)
	if err != nil {
		return fmt.Errorf("list mints: %w", err)
	}
	for _, mint := range mints {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, err := m.wallets.Wallet(ctx, mint.URL)
		if err != nil {
			m.logger.Warn().Err(err).Str("mint", mint.URL).Msg("info refresh: wallet unavailable")
			continue
		}
		if err := w.LoadMint(ctx); err != nil {
			m.logger.Warn().Err(err).Str("mint", mint.URL).Msg("info refresh: load failed")
			continue
		}
		info := w.MintInfo()
		if len(info) == 0 {
			continue
		}
		if err := m.ledger.UpdateMintInfo(ctx, mint.ID, string(info)); err != nil {
			m.logger.Error().Err(err).Str("mint", mint.URL).Msg("info refresh: ledger write failed")
		}
	}
	return nil
}

// ReconcileReserved inspects every mint's reserved proofs against the mint
// and settles each one: spent proofs are invalidated, unspent ones released.
// Run once at startup so a crash mid-swap cannot permanently strand funds in
// the reserved set.
func (m *Maintainer) ReconcileReserved(ctx context.Context) error {
	mints, err := m.ledger.ListMints(ctx)
	if err != nil {
		return fmt.Errorf("list mints: %w", err)
	}
	for _, mint := range mints {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, err := m.wallets.Wallet(ctx, mint.URL)
		if err != nil {
			m.logger.Warn().Err(err).Str("mint", mint.URL).Msg("reserved reconcile: wallet unavailable")
			continue
		}
		if err := w.LoadProofs(ctx, true); err != nil {
			m.logger.Warn().Err(err).Str("mint", mint.URL).Msg("reserved reconcile: proof reload failed")
			continue
		}
		var reserved []wallet.Proof
		for _, p := range w.Proofs() {
			if p.Reserved {
				reserved = append(reserved, p)
			}
		}
		if len(reserved) == 0 {
			continue
		}
		m.logger.Info().
			Str("mint", mint.URL).
			Int("reserved", len(reserved)).
			Msg("reconciling leftover reserved proofs")
		reconcileProofs(ctx, w, reserved, m.logger)
	}
	return nil
}

// reconcileProofs resolves the fate of a reserved proof set against the
// mint. Errors are logged, not propagated; callers are already on a cleanup
// path.
func reconcileProofs(ctx context.Context, w wallet.Provider, proofs []wallet.Proof, logger zerolog.Logger) {
	states, err := w.CheckProofState(ctx, proofs)
	if err != nil {
		logger.Error().Err(err).Str("mint", w.MintURL()).Msg("proof state check failed")
		return
	}

	bySecret := make(map[string]wallet.SpentState, len(states))
	for _, st := range states {
		bySecret[st.Secret] = st.State
	}

	var spent, unspent []wallet.Proof
	for _, p := range proofs {
		switch bySecret[p.Secret] {
		case wallet.ProofSpent:
			spent = append(spent, p)
		case wallet.ProofUnspent:
			unspent = append(unspent, p)
		}
	}

	logger.Info().
		Int("spent", len(spent)).
		Int("unspent", len(unspent)).
		Str("mint", w.MintURL()).
		Msg("reserved proofs resolved")

	if len(unspent) > 0 {
		if err := w.SetReserved(ctx, unspent, false); err != nil {
			logger.Error().Err(err).Str("mint", w.MintURL()).Msg("releasing unspent proofs failed")
		}
	}
	if len(spent) > 0 {
		if _, err := w.Invalidate(ctx, spent, false); err != nil {
			logger.Error().Err(err).Str("mint", w.MintURL()).Msg("invalidating spent proofs failed")
		}
	}
}
