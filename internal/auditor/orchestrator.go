package auditor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mint-auditor/internal/alerting"
	"mint-auditor/internal/storage"
	"mint-auditor/internal/wallet"
)

// Ledger is the persistence surface the swap engine writes through,
// satisfied by *storage.Store.
type Ledger interface {
	ListMints(ctx context.Context) ([]storage.Mint, error)
	UpdateMintBalance(ctx context.Context, id int64, balance int64) error
	UpdateMintInfo(ctx context.Context, id int64, info string) error
	BumpMintErrors(ctx context.Context, id int64) (int64, error)
	BumpMintNMints(ctx context.Context, id int64) (int64, error)
	BumpMintNMelts(ctx context.Context, id int64) (int64, error)
	InsertSwapEvent(ctx context.Context, event storage.SwapEvent) (storage.SwapEvent, error)
}

// Options wire an Orchestrator.
type Options struct {
	Ledger    Ledger
	Wallets   wallet.Dialer
	Selector  *Selector
	Recoverer *Recoverer
	// Notifier is optional; failures carrying operator-visible risk are
	// pushed through it when set.
	Notifier alerting.Notifier
	// Locker is optional; when set together with LockKey, a swap attempt is
	// skipped unless the advisory lock is acquired.
	Locker  storage.AdvisoryLocker
	LockKey int64

	SalvageDelay time.Duration
	CreditDelay  time.Duration
}

// Orchestrator drives one rebalancing attempt end-to-end: pick endpoints,
// obtain quotes, reserve proofs, settle the outgoing leg, reconcile on
// ambiguous failure, credit the incoming leg, and record the outcome.
type Orchestrator struct {
	ledger    Ledger
	wallets   wallet.Dialer
	selector  *Selector
	recoverer *Recoverer
	notifier  alerting.Notifier
	locker    storage.AdvisoryLocker
	lockKey   int64

	salvageDelay time.Duration
	creditDelay  time.Duration
	logger       zerolog.Logger
}

// NewOrchestrator constructs the swap engine.
func NewOrchestrator(opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		ledger:       opts.Ledger,
		wallets:      opts.Wallets,
		selector:     opts.Selector,
		recoverer:    opts.Recoverer,
		notifier:     opts.Notifier,
		locker:       opts.Locker,
		lockKey:      opts.LockKey,
		salvageDelay: opts.SalvageDelay,
		creditDelay:  opts.CreditDelay,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Attempt runs one swap attempt under the advisory lock (when configured).
func (o *Orchestrator) Attempt(ctx context.Context) error {
	if o.locker != nil && o.lockKey != 0 {
		unlock, acquired, err := o.locker.TryAdvisoryLock(ctx, o.lockKey)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !acquired {
			o.logger.Debug().Msg("skip swap attempt, advisory lock held elsewhere")
			return nil
		}
		defer unlock()
	}
	return o.RunSwap(ctx)
}

// RunSwap executes the swap state machine once. SwapEvent recording rules:
// infrastructural failures before the melt quote produce no event; from the
// melt quote on, every failure path records exactly one event, except
// failures fully absorbed by the Recoverer, which are suppressed and
// re-raised for scheduler backoff.
func (o *Orchestrator) RunSwap(ctx context.Context) error {
	mints, err := o.ledger.ListMints(ctx)
	if err != nil {
		return fmt.Errorf("list mints: %w", err)
	}

	toMint, err := o.selector.ChooseToMint(mints)
	if err != nil {
		return fmt.Errorf("choose destination: %w", err)
	}

	// LOAD_TARGET
	toWallet, err := o.loadWallet(ctx, toMint)
	if err != nil {
		return fmt.Errorf("load destination %s: %w", toMint.URL, err)
	}

	fromMint, amount, err := o.selector.ChooseFromMintAndAmount(toMint, mints)
	if err != nil {
		return fmt.Errorf("choose source: %w", err)
	}

	// LOAD_SOURCE
	fromWallet, err := o.loadWallet(ctx, fromMint)
	if err != nil {
		return fmt.Errorf("load source %s: %w", fromMint.URL, err)
	}

	o.logger.Info().
		Str("from", fromMint.URL).
		Str("to", toMint.URL).
		Int64("amount", amount).
		Msg("starting swap")

	o.writeBalance(ctx, fromMint.ID, fromWallet.AvailableBalance())
	o.writeBalance(ctx, toMint.ID, toWallet.AvailableBalance())

	// REQUEST_MINT_QUOTE
	mintQuote, err := toWallet.RequestMintQuote(ctx, amount)
	if err != nil {
		o.bumpErrors(ctx, toMint.ID)
		return fmt.Errorf("request mint quote from %s: %w", toMint.URL, err)
	}

	// REQUEST_MELT_QUOTE. From here on, real external state exists, so every
	// failure path owes the event log exactly one row.
	meltQuote, err := fromWallet.MeltQuote(ctx, mintQuote.Request)
	if err != nil {
		o.bumpErrors(ctx, fromMint.ID)
		o.recordEvent(ctx, fromMint, toMint, amount, 0, 0, storage.SwapStateError, err)
		return fmt.Errorf("melt quote from %s: %w", fromMint.URL, err)
	}

	balanceBefore := fromWallet.AvailableBalance()
	totalAmount := meltQuote.Amount + meltQuote.FeeReserve

	// RESERVE_PROOFS
	sendProofs, err := fromWallet.SelectToSend(ctx, totalAmount, true, true)
	if err != nil {
		o.recoverer.Recover(ctx, fromWallet, err)
		return fmt.Errorf("select %d sat (amount %d + fee reserve %d) from %s: %w",
			totalAmount, meltQuote.Amount, meltQuote.FeeReserve, fromMint.URL, err)
	}

	// MELT
	start := time.Now()
	meltErr := fromWallet.Melt(ctx, sendProofs, mintQuote.Request, meltQuote.FeeReserve, meltQuote.Quote)
	timeTaken := time.Since(start).Milliseconds()

	if err := fromWallet.LoadProofs(ctx, true); err != nil {
		o.logger.Error().Err(err).Str("mint", fromMint.URL).Msg("proof reload after melt failed")
	}
	balanceAfter := fromWallet.AvailableBalance()

	credited := false
	if meltErr != nil {
		o.logger.Error().Err(meltErr).Str("mint", fromMint.URL).Msg("melt failed")

		// The outgoing leg is now ambiguous: proofs reported spent are gone
		// regardless of the local failure, the rest must be released.
		reconcileProofs(ctx, fromWallet, sendProofs, o.logger)

		recovered := o.recoverer.Recover(ctx, fromWallet, meltErr)
		if !recovered {
			// Salvage: a melt failure does not guarantee the payment did not
			// land, so try the credit leg anyway.
			o.logger.Info().Str("mint", toMint.URL).Msg("attempting credit despite melt failure")
			if err := sleepCtx(ctx, o.salvageDelay); err != nil {
				return err
			}
			if _, err := toWallet.Mint(ctx, amount, mintQuote.Quote); err != nil {
				o.logger.Error().Err(err).Str("mint", toMint.URL).Msg("salvage credit failed")
			} else {
				credited = true
				o.logger.Info().Str("mint", toMint.URL).Msg("salvage credit worked")
			}
		}

		if !credited {
			if recovered {
				// Self-healed wallet desync: deliberately kept out of the
				// event log so failure statistics only show real faults.
				o.logger.Warn().Str("mint", fromMint.URL).Bool("recovered", true).
					Msg("melt failure healed locally, not recording event")
				return fmt.Errorf("melt on %s healed locally: %w", fromMint.URL, meltErr)
			}
			o.bumpErrors(ctx, fromMint.ID)
			o.recordEvent(ctx, fromMint, toMint, amount, 0, 0, storage.SwapStateError, meltErr)
			o.notify(ctx, alerting.KindSettlementFailed, fromMint, toMint, amount, meltErr)
			return fmt.Errorf("melt on %s: %w", fromMint.URL, meltErr)
		}
	}

	// MINT_CREDIT
	if !credited {
		if err := sleepCtx(ctx, o.creditDelay); err != nil {
			return err
		}
		proofs, err := toWallet.Mint(ctx, amount, mintQuote.Quote)
		if err != nil {
			// The outgoing leg already succeeded; this is a stuck transfer.
			o.bumpErrors(ctx, toMint.ID)
			o.recordEvent(ctx, fromMint, toMint, amount, 0, timeTaken, storage.SwapStateError, err)
			o.notify(ctx, alerting.KindCreditFailed, fromMint, toMint, amount, err)
			return fmt.Errorf("credit on %s after settled melt: %w", toMint.URL, err)
		}
		o.logger.Info().
			Int64("minted", wallet.SumProofs(proofs)).
			Str("mint", toMint.URL).
			Msg("credit leg complete")
	}

	// FINALIZE
	if err := toWallet.LoadProofs(ctx, true); err != nil {
		o.logger.Error().Err(err).Str("mint", toMint.URL).Msg("proof reload after credit failed")
	}
	o.writeBalance(ctx, fromMint.ID, fromWallet.AvailableBalance())
	o.writeBalance(ctx, toMint.ID, toWallet.AvailableBalance())

	if _, err := o.ledger.BumpMintNMelts(ctx, fromMint.ID); err != nil {
		o.logger.Error().Err(err).Str("mint", fromMint.URL).Msg("bump n_melts failed")
	}
	if _, err := o.ledger.BumpMintNMints(ctx, toMint.ID); err != nil {
		o.logger.Error().Err(err).Str("mint", toMint.URL).Msg("bump n_mints failed")
	}

	// Fee is the observed source balance delta beyond the nominal amount,
	// never the quoted reserve.
	fee := (balanceBefore - balanceAfter) - amount
	o.recordEvent(ctx, fromMint, toMint, amount, fee, timeTaken, storage.SwapStateOK, nil)

	o.logger.Info().
		Str("from", fromMint.URL).
		Str("to", toMint.URL).
		Int64("amount", amount).
		Int64("fee", fee).
		Int64("time_taken_ms", timeTaken).
		Msg("swap successful")
	return nil
}

// loadWallet opens a per-mint handle and refreshes its metadata and proof
// set. Failures here are infrastructural: the mint's error counter is
// bumped, no swap event is recorded.
func (o *Orchestrator) loadWallet(ctx context.Context, mint storage.Mint) (wallet.Provider, error) {
	w, err := o.wallets.Wallet(ctx, mint.URL)
	if err != nil {
		o.bumpErrors(ctx, mint.ID)
		return nil, err
	}
	if err := w.LoadMint(ctx); err != nil {
		o.bumpErrors(ctx, mint.ID)
		return nil, err
	}
	if err := w.LoadProofs(ctx, true); err != nil {
		o.bumpErrors(ctx, mint.ID)
		return nil, err
	}
	if info := w.MintInfo(); len(info) > 0 {
		if err := o.ledger.UpdateMintInfo(ctx, mint.ID, string(info)); err != nil {
			o.logger.Error().Err(err).Str("mint", mint.URL).Msg("mint info update failed")
		}
	}
	return w, nil
}

func (o *Orchestrator) bumpErrors(ctx context.Context, mintID int64) {
	if _, err := o.ledger.BumpMintErrors(ctx, mintID); err != nil {
		o.logger.Error().Err(err).Int64("mint_id", mintID).Msg("bump n_errors failed")
	}
}

func (o *Orchestrator) writeBalance(ctx context.Context, mintID int64, balance int64) {
	if err := o.ledger.UpdateMintBalance(ctx, mintID, balance); err != nil {
		o.logger.Error().Err(err).Int64("mint_id", mintID).Msg("balance update failed")
	}
}

func (o *Orchestrator) recordEvent(ctx context.Context, from, to storage.Mint, amount, fee, timeTaken int64, state storage.SwapState, cause error) {
	event := storage.SwapEvent{
		FromID:    from.ID,
		ToID:      to.ID,
		FromURL:   from.URL,
		ToURL:     to.URL,
		Amount:    amount,
		Fee:       fee,
		TimeTaken: timeTaken,
		State:     state,
	}
	if cause != nil {
		msg := cause.Error()
		event.Error = &msg
	}
	if _, err := o.ledger.InsertSwapEvent(ctx, event); err != nil {
		o.logger.Error().Err(err).Msg("swap event insert failed")
	}
}

func (o *Orchestrator) notify(ctx context.Context, kind alerting.Kind, from, to storage.Mint, amount int64, cause error) {
	if o.notifier == nil {
		return
	}
	note := alerting.Notification{
		Kind:    kind,
		FromURL: from.URL,
		ToURL:   to.URL,
		Amount:  amount,
		At:      time.Now().UTC(),
	}
	if cause != nil {
		note.Error = storage.SanitizeError(cause.Error())
	}
	if err := o.notifier.Notify(ctx, note); err != nil {
		o.logger.Error().Err(err).Msg("alert delivery failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
