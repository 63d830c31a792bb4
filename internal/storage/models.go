package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// MintState is the health state of a monitored mint. It is recomputed only
// by the swap engine: ERROR on a failed wallet operation, OK on a completed
// outgoing leg.
type MintState string

const (
	MintStateOK      MintState = "OK"
	MintStateWarn    MintState = "WARN"
	MintStateError   MintState = "ERROR"
	MintStateUnknown MintState = "UNKNOWN"
)

// SwapState is the terminal state of a recorded swap attempt.
type SwapState string

const (
	SwapStateOK    SwapState = "OK"
	SwapStateError SwapState = "ERROR"
)

// Mint is one monitored reserve account. Balance mirrors the wallet's
// spendable total for that mint and is never computed locally; SumDonations
// is the cumulative inflow ever received and acts as the balance target.
type Mint struct {
	ID           int64
	URL          string
	Name         string
	Info         *string
	Balance      int64
	SumDonations int64
	State        MintState
	NErrors      int64
	NMints       int64
	NMelts       int64
	Latitude     *float64
	Longitude    *float64
	UpdatedAt    time.Time
	NextUpdate   *time.Time
}

// Deficit is how far the mint's reserve sits below its donation target.
func (m Mint) Deficit() int64 {
	return m.SumDonations - m.Balance
}

// SwapEvent is one immutable record of an attempted rebalance. URL copies
// are frozen at event time even if a mint's URL later changes.
type SwapEvent struct {
	ID        int64
	FromID    int64
	ToID      int64
	FromURL   string
	ToURL     string
	Amount    int64
	Fee       int64
	TimeTaken int64 // settlement leg duration, milliseconds
	State     SwapState
	Error     *string
	CreatedAt time.Time
}

// SwapEdge aggregates the swap history between one ordered mint pair.
type SwapEdge struct {
	FromID      int64
	ToID        int64
	Count       int64
	TotalAmount int64
	TotalFee    int64
	LastSwap    time.Time
	State       SwapState
}

// SwapStats summarise the whole event log.
type SwapStats struct {
	Total       int64
	Failed      int64
	TotalAmount int64
	TotalFee    int64
	AvgFee      decimal.Decimal
	AvgTimeMS   decimal.Decimal
}
