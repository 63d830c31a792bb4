package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mint-auditor/internal/wallet"
)

// fakeProvider scripts a wallet handle. Zero value behaves as a healthy
// wallet; set the err/return fields to script failures.
type fakeProvider struct {
	url     string
	proofs  []wallet.Proof
	info    json.RawMessage
	balance int64
	// balances, when set, is consumed one value per AvailableBalance call,
	// the last value repeating.
	balances []int64

	loadMintErr   error
	loadProofsErr error
	mintQuote     wallet.MintQuote
	mintQuoteErr  error
	meltQuote     wallet.MeltQuote
	meltQuoteErr  error
	selectProofs  []wallet.Proof
	selectErr     error
	meltErr       error
	mintProofs    []wallet.Proof
	mintErr       error
	states        []wallet.ProofState
	checkErr      error
	invalidateErr error
	setReservedErr error
	bumpErr       error
	receiveAmount int64
	receiveErr    error

	loadProofsCalls int
	selectCalls     []int64
	meltCalls       int
	mintCalls       []int64
	checkCalls      int
	invalidateCalls [][]wallet.Proof
	setReservedCalls [][]wallet.Proof
	bumpCalls       []int
}

func (f *fakeProvider) MintURL() string { return f.url }

func (f *fakeProvider) LoadMint(context.Context) error { return f.loadMintErr }

func (f *fakeProvider) LoadProofs(context.Context, bool) error {
	f.loadProofsCalls++
	return f.loadProofsErr
}

func (f *fakeProvider) Proofs() []wallet.Proof { return f.proofs }

func (f *fakeProvider) AvailableBalance() int64 {
	if len(f.balances) == 0 {
		return f.balance
	}
	b := f.balances[0]
	if len(f.balances) > 1 {
		f.balances = f.balances[1:]
	}
	return b
}

func (f *fakeProvider) MintInfo() json.RawMessage { return f.info }

func (f *fakeProvider) RequestMintQuote(_ context.Context, amount int64) (wallet.MintQuote, error) {
	return f.mintQuote, f.mintQuoteErr
}

func (f *fakeProvider) MeltQuote(context.Context, string) (wallet.MeltQuote, error) {
	return f.meltQuote, f.meltQuoteErr
}

func (f *fakeProvider) SelectToSend(_ context.Context, amount int64, _, _ bool) ([]wallet.Proof, error) {
	f.selectCalls = append(f.selectCalls, amount)
	return f.selectProofs, f.selectErr
}

func (f *fakeProvider) Melt(context.Context, []wallet.Proof, string, int64, string) error {
	f.meltCalls++
	return f.meltErr
}

func (f *fakeProvider) Mint(_ context.Context, amount int64, _ string) ([]wallet.Proof, error) {
	f.mintCalls = append(f.mintCalls, amount)
	return f.mintProofs, f.mintErr
}

func (f *fakeProvider) CheckProofState(context.Context, []wallet.Proof) ([]wallet.ProofState, error) {
	f.checkCalls++
	return f.states, f.checkErr
}

func (f *fakeProvider) Invalidate(_ context.Context, proofs []wallet.Proof, _ bool) ([]wallet.Proof, error) {
	f.invalidateCalls = append(f.invalidateCalls, proofs)
	if f.invalidateErr != nil {
		return nil, f.invalidateErr
	}
	return nil, nil
}

func (f *fakeProvider) SetReserved(_ context.Context, proofs []wallet.Proof, _ bool) error {
	f.setReservedCalls = append(f.setReservedCalls, proofs)
	return f.setReservedErr
}

func (f *fakeProvider) BumpKeysetCounter(_ context.Context, by int) error {
	f.bumpCalls = append(f.bumpCalls, by)
	return f.bumpErr
}

func (f *fakeProvider) Receive(context.Context, string) (int64, error) {
	return f.receiveAmount, f.receiveErr
}

var _ wallet.Provider = (*fakeProvider)(nil)

func makeProofs(n int) []wallet.Proof {
	proofs := make([]wallet.Proof, n)
	for i := range proofs {
		proofs[i] = wallet.Proof{Amount: 1, Secret: fmt.Sprintf("s%d", i)}
	}
	return proofs
}

func TestRecoverUnknownFault(t *testing.T) {
	r := NewRecoverer(50, 10, zerolog.Nop())
	w := &fakeProvider{url: "https://m"}

	require.False(t, r.Recover(context.Background(), w, errors.New("connection refused")))
	require.Empty(t, w.bumpCalls)
	require.Empty(t, w.invalidateCalls)
}

func TestRecoverSecretReused(t *testing.T) {
	r := NewRecoverer(50, 10, zerolog.Nop())
	w := &fakeProvider{url: "https://m"}
	err := wallet.NewFault("Mint Error: outputs have already been signed before.")

	require.True(t, r.Recover(context.Background(), w, err))
	require.Equal(t, []int{10}, w.bumpCalls)
	require.Empty(t, w.invalidateCalls)
}

func TestRecoverSecretReusedBumpFails(t *testing.T) {
	r := NewRecoverer(50, 10, zerolog.Nop())
	w := &fakeProvider{url: "https://m", bumpErr: errors.New("daemon down")}
	err := wallet.NewFault("secret already used")

	require.False(t, r.Recover(context.Background(), w, err))
}

func TestRecoverProofSpentBatches(t *testing.T) {
	r := NewRecoverer(50, 10, zerolog.Nop())
	w := &fakeProvider{url: "https://m", proofs: makeProofs(120)}
	err := wallet.NewFault("Mint Error: proofs already spent.")

	require.True(t, r.Recover(context.Background(), w, err))
	require.Len(t, w.invalidateCalls, 3)
	require.Len(t, w.invalidateCalls[0], 50)
	require.Len(t, w.invalidateCalls[1], 50)
	require.Len(t, w.invalidateCalls[2], 20)
	// Whatever survived invalidation is released. Here nothing survived.
	require.Len(t, w.setReservedCalls, 1)
	require.Empty(t, w.setReservedCalls[0])
}

func TestRecoverProofSpentInvalidateFails(t *testing.T) {
	r := NewRecoverer(50, 10, zerolog.Nop())
	w := &fakeProvider{url: "https://m", proofs: makeProofs(10), invalidateErr: errors.New("timeout")}
	err := wallet.NewFault("already spent")

	require.False(t, r.Recover(context.Background(), w, err))
}
