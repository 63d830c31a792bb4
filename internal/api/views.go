package api

import (
	"time"

	"mint-auditor/internal/storage"
)

type mintView struct {
	ID           int64     `json:"id"`
	URL          string    `json:"url"`
	Name         string    `json:"name"`
	Balance      int64     `json:"balance"`
	SumDonations int64     `json:"sum_donations"`
	Deficit      int64     `json:"deficit"`
	State        string    `json:"state"`
	NErrors      int64     `json:"n_errors"`
	NMints       int64     `json:"n_mints"`
	NMelts       int64     `json:"n_melts"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toMintView(m storage.Mint) mintView {
	return mintView{
		ID:           m.ID,
		URL:          m.URL,
		Name:         m.Name,
		Balance:      m.Balance,
		SumDonations: m.SumDonations,
		Deficit:      m.Deficit(),
		State:        string(m.State),
		NErrors:      m.NErrors,
		NMints:       m.NMints,
		NMelts:       m.NMelts,
		Latitude:     m.Latitude,
		Longitude:    m.Longitude,
		UpdatedAt:    m.UpdatedAt,
	}
}

type swapView struct {
	ID        int64     `json:"id"`
	FromID    int64     `json:"from_id"`
	ToID      int64     `json:"to_id"`
	FromURL   string    `json:"from_url"`
	ToURL     string    `json:"to_url"`
	Amount    int64     `json:"amount"`
	Fee       int64     `json:"fee"`
	TimeTaken int64     `json:"time_taken_ms"`
	State     string    `json:"state"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toSwapView(ev storage.SwapEvent) swapView {
	return swapView{
		ID:        ev.ID,
		FromID:    ev.FromID,
		ToID:      ev.ToID,
		FromURL:   ev.FromURL,
		ToURL:     ev.ToURL,
		Amount:    ev.Amount,
		Fee:       ev.Fee,
		TimeTaken: ev.TimeTaken,
		State:     string(ev.State),
		Error:     ev.Error,
		CreatedAt: ev.CreatedAt,
	}
}

type edgeView struct {
	FromID      int64     `json:"from_id"`
	ToID        int64     `json:"to_id"`
	Count       int64     `json:"count"`
	TotalAmount int64     `json:"total_amount"`
	TotalFee    int64     `json:"total_fee"`
	LastSwap    time.Time `json:"last_swap"`
	State       string    `json:"state"`
}
