// Package wallet defines the contract the auditor drives an external ecash
// wallet through. The wallet daemon owns keys, blind signatures, and proof
// storage; this package only addresses it, never inspects proof cryptography.
package wallet

import (
	"context"
	"encoding/json"
)

// Proof is an opaque spendable value unit held by the wallet for one mint.
// The auditor treats proofs as an unordered multiset it can reserve, release,
// or invalidate.
type Proof struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Secret   string `json:"secret"`
	C        string `json:"C"`
	Reserved bool   `json:"reserved"`
}

// SumProofs totals the amounts of a proof set.
func SumProofs(proofs []Proof) int64 {
	var total int64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

// SpentState classifies one proof as reported by its mint.
type SpentState string

const (
	ProofUnspent SpentState = "UNSPENT"
	ProofPending SpentState = "PENDING"
	ProofSpent   SpentState = "SPENT"
)

// ProofState pairs a proof secret with its externally checked state.
type ProofState struct {
	Secret string     `json:"secret"`
	State  SpentState `json:"state"`
}

// MintQuote is a receive-request descriptor issued by a destination mint.
type MintQuote struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	Paid    bool   `json:"paid"`
}

// MeltQuote is a settlement quote issued by a source mint against a
// payment request.
type MeltQuote struct {
	Quote      string `json:"quote"`
	Amount     int64  `json:"amount"`
	FeeReserve int64  `json:"fee_reserve"`
}

// Provider is the per-mint wallet handle. One Provider addresses exactly one
// mint; cross-attempt state bleed through a shared handle is not possible.
// All blocking operations take a context.
type Provider interface {
	// MintURL reports which mint this handle addresses.
	MintURL() string

	// LoadMint refreshes mint metadata and keysets from the mint.
	LoadMint(ctx context.Context) error
	// LoadProofs refreshes the local proof set from the wallet's storage.
	LoadProofs(ctx context.Context, reload bool) error

	// Proofs returns the proof set as of the last LoadProofs.
	Proofs() []Proof
	// AvailableBalance returns the spendable total as of the last LoadProofs.
	AvailableBalance() int64
	// MintInfo returns the opaque mint descriptor as of the last LoadMint.
	MintInfo() json.RawMessage

	RequestMintQuote(ctx context.Context, amount int64) (MintQuote, error)
	MeltQuote(ctx context.Context, request string) (MeltQuote, error)

	// SelectToSend picks proofs covering amount (plus fees when includeFees),
	// optionally marking them reserved.
	SelectToSend(ctx context.Context, amount int64, includeFees, setReserved bool) ([]Proof, error)
	// Melt submits proofs to settle a payment request.
	Melt(ctx context.Context, proofs []Proof, request string, feeReserve int64, quoteID string) error
	// Mint credits amount against a fulfilled mint quote.
	Mint(ctx context.Context, amount int64, quoteID string) ([]Proof, error)

	CheckProofState(ctx context.Context, proofs []Proof) ([]ProofState, error)
	// Invalidate removes confirmed-spent proofs from the wallet's set and
	// returns the proofs still spendable.
	Invalidate(ctx context.Context, proofs []Proof, checkSpendable bool) ([]Proof, error)
	SetReserved(ctx context.Context, proofs []Proof, reserved bool) error

	// BumpKeysetCounter advances the deterministic secret-derivation counter.
	BumpKeysetCounter(ctx context.Context, by int) error

	// Receive redeems a serialized ecash token into this wallet and returns
	// the amount credited.
	Receive(ctx context.Context, token string) (int64, error)
}

// Dialer opens per-mint wallet handles.
type Dialer interface {
	Wallet(ctx context.Context, mintURL string) (Provider, error)
}
