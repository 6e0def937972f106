package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionType tags a position with the signal family that opened it
type PositionType string

const (
	PositionMomentum     PositionType = "momentum"
	PositionPump         PositionType = "pump"
	PositionFundamentals PositionType = "fundamentals"
)

// IsRisky reports whether the type counts toward the aggregate risky exposure cap
func (t PositionType) IsRisky() bool {
	return t == PositionMomentum || t == PositionPump
}

// Valid reports whether t is a known position type
func (t PositionType) Valid() bool {
	switch t {
	case PositionMomentum, PositionPump, PositionFundamentals:
		return true
	}
	return false
}

// ParsePositionType parses a position type case-insensitively
func ParsePositionType(s string) (PositionType, error) {
	t := PositionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown position type %q", s)
	}
	return t, nil
}

// Quote is one externally supplied observation for a ticker: the current
// price and the latest signal score.
type Quote struct {
	Ticker       string
	Price        decimal.Decimal
	SignalScore  float64
	PositionType PositionType
	Timestamp    time.Time
}
