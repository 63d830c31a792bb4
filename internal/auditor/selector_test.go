package auditor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mint-auditor/internal/storage"
)

func testSelectorConfig() SelectorConfig {
	return SelectorConfig{
		MinAmount:           5,
		MaxAmount:           100,
		MinBalanceThreshold: 100,
		ReserveRatio:        0.8,
	}
}

func TestChooseToMintEligibility(t *testing.T) {
	s := NewSelector(testSelectorConfig(), nil)

	tests := []struct {
		name  string
		mints []storage.Mint
		want  string
		err   error
	}{
		{
			name: "underfunded healthy mint is picked",
			mints: []storage.Mint{
				{URL: "https://a", State: storage.MintStateOK, Balance: 200, SumDonations: 1000},
				{URL: "https://b", State: storage.MintStateOK, Balance: 1000, SumDonations: 1000},
			},
			want: "https://a",
		},
		{
			name: "failed mint below threshold still qualifies",
			mints: []storage.Mint{
				{URL: "https://a", State: storage.MintStateError, Balance: 50, SumDonations: 1000},
				{URL: "https://b", State: storage.MintStateOK, Balance: 1000, SumDonations: 1000},
			},
			want: "https://a",
		},
		{
			name: "failed mint above threshold does not",
			mints: []storage.Mint{
				{URL: "https://a", State: storage.MintStateError, Balance: 500, SumDonations: 1000},
			},
			err: ErrNoEligibleMint,
		},
		{
			name: "fully funded mint does not",
			mints: []storage.Mint{
				{URL: "https://a", State: storage.MintStateOK, Balance: 1000, SumDonations: 1000},
			},
			err: ErrNoEligibleMint,
		},
		{
			name: "empty set",
			err:  ErrNoEligibleMint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			picked, err := s.ChooseToMint(tt.mints)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, picked.URL)
		})
	}
}

func TestChooseFromMintAndAmountBounds(t *testing.T) {
	s := NewSelector(testSelectorConfig(), nil)

	toMint := storage.Mint{URL: "https://dest", Balance: 0, SumDonations: 1000}
	mints := []storage.Mint{
		toMint,
		{URL: "https://src", State: storage.MintStateOK, Balance: 10000},
	}

	for range 500 {
		from, amount, err := s.ChooseFromMintAndAmount(toMint, mints)
		require.NoError(t, err)
		require.Equal(t, "https://src", from.URL)
		require.GreaterOrEqual(t, amount, int64(5))
		require.LessOrEqual(t, amount, int64(100))
	}
}

func TestChooseFromMintAndAmountCapsAtDeficit(t *testing.T) {
	s := NewSelector(testSelectorConfig(), nil)

	// Deficit of 20 caps the draw below the configured maximum.
	toMint := storage.Mint{URL: "https://dest", Balance: 980, SumDonations: 1000}
	mints := []storage.Mint{
		toMint,
		{URL: "https://src", Balance: 10000},
	}

	for range 500 {
		_, amount, err := s.ChooseFromMintAndAmount(toMint, mints)
		require.NoError(t, err)
		require.LessOrEqual(t, amount, int64(20))
	}
}

func TestChooseFromMintAndAmountRangeEmpty(t *testing.T) {
	s := NewSelector(testSelectorConfig(), nil)

	toMint := storage.Mint{URL: "https://dest", Balance: 0, SumDonations: 1000}
	mints := []storage.Mint{
		toMint,
		{URL: "https://src", Balance: 3}, // richest balance below MinAmount
	}

	_, _, err := s.ChooseFromMintAndAmount(toMint, mints)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestChooseFromMintAndAmountReserveRatio(t *testing.T) {
	cfg := testSelectorConfig()
	cfg.MinAmount = 100
	cfg.MaxAmount = 100
	s := NewSelector(cfg, nil)

	toMint := storage.Mint{URL: "https://dest", Balance: 0, SumDonations: 1000}

	// 120 * 0.8 = 96 < 100: the only candidate cannot keep its reserve.
	_, _, err := s.ChooseFromMintAndAmount(toMint, []storage.Mint{
		toMint,
		{URL: "https://thin", Balance: 120},
	})
	require.ErrorIs(t, err, ErrNoEligibleMint)

	// 125 * 0.8 = 100 >= 100: boundary passes.
	from, amount, err := s.ChooseFromMintAndAmount(toMint, []storage.Mint{
		toMint,
		{URL: "https://exact", Balance: 125},
	})
	require.NoError(t, err)
	require.Equal(t, "https://exact", from.URL)
	require.Equal(t, int64(100), amount)
}

func TestChooseFromMintAndAmountNoCandidates(t *testing.T) {
	s := NewSelector(testSelectorConfig(), nil)
	toMint := storage.Mint{URL: "https://dest", SumDonations: 1000}

	_, _, err := s.ChooseFromMintAndAmount(toMint, []storage.Mint{toMint})
	require.ErrorIs(t, err, ErrNoEligibleMint)
}

func TestDeficitWeight(t *testing.T) {
	require.Equal(t, 0.0, DeficitWeight(storage.Mint{Balance: 0, SumDonations: 1000}))
	require.Equal(t, 0.0, DeficitWeight(storage.Mint{Balance: 100, SumDonations: 0}))
	require.InDelta(t, 0.9, DeficitWeight(storage.Mint{Balance: 100, SumDonations: 1000}), 1e-9)
}

func TestChooseToMintWeighted(t *testing.T) {
	s := NewSelector(testSelectorConfig(), DeficitWeight)

	// Only one mint carries positive weight, so it must always win.
	mints := []storage.Mint{
		{URL: "https://zero", State: storage.MintStateOK, Balance: 0, SumDonations: 1000},
		{URL: "https://deep", State: storage.MintStateOK, Balance: 10, SumDonations: 1000},
	}
	for range 100 {
		picked, err := s.ChooseToMint(mints)
		require.NoError(t, err)
		require.Equal(t, "https://deep", picked.URL)
	}
}
