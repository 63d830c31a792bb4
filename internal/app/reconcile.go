package app

import (
	"context"

	"mint-auditor/internal/auditor"
)

// Reconcile settles leftover proof reservations and refreshes every mint's
// balance and metadata, without starting the swap loop. Useful after a crash
// or before inspecting the ledger.
func (a *App) Reconcile(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	maintainer := auditor.NewMaintainer(store, a.newDialer(), a.Logger)

	if err := maintainer.ReconcileReserved(ctx); err != nil {
		return err
	}
	if err := maintainer.RefreshBalances(ctx); err != nil {
		return err
	}
	if err := maintainer.RefreshMintInfos(ctx); err != nil {
		return err
	}

	a.Logger.Info().Msg("reconciliation complete")
	return nil
}
