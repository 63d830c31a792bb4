package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"mint-auditor/internal/auditor"
)

// Plan runs the selection stage against the current ledger without touching
// any wallet, printing which swap the engine would attempt right now.
func (a *App) Plan(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	mints, err := store.ListMints(ctx)
	if err != nil {
		return err
	}
	if len(mints) == 0 {
		return errors.New("no mints registered")
	}

	selector := auditor.NewSelector(auditor.SelectorConfig{
		MinAmount:           a.Config.Swap.MinAmount,
		MaxAmount:           a.Config.Swap.MaxAmount,
		MinBalanceThreshold: a.Config.Swap.MinBalanceThreshold,
		ReserveRatio:        a.Config.Swap.ReserveRatio,
	}, nil)

	toMint, err := selector.ChooseToMint(mints)
	if errors.Is(err, auditor.ErrNoEligibleMint) {
		fmt.Fprintln(os.Stdout, "no mint currently needs funds")
		return nil
	}
	if err != nil {
		return err
	}

	fromMint, amount, err := selector.ChooseFromMintAndAmount(toMint, mints)
	switch {
	case errors.Is(err, auditor.ErrNoEligibleMint):
		fmt.Fprintf(os.Stdout, "destination %s needs funds but no source can cover a transfer\n", toMint.URL)
		return nil
	case errors.Is(err, auditor.ErrInvalidRange):
		fmt.Fprintf(os.Stdout, "destination %s needs funds but the drawable amount range is empty\n", toMint.URL)
		return nil
	case err != nil:
		return err
	}

	fmt.Fprintf(os.Stdout, "would swap %d sat\n", amount)
	fmt.Fprintf(os.Stdout, "  from: %s (balance %d)\n", fromMint.URL, fromMint.Balance)
	fmt.Fprintf(os.Stdout, "  to:   %s (balance %d, deficit %d)\n", toMint.URL, toMint.Balance, toMint.Deficit())
	return nil
}
