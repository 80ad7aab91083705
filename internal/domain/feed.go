package domain

import (
	"context"
	"time"
)

// Tick is a single price observation for a symbol.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"ts"`
}

// PriceFeed streams ticks for one symbol. The returned channel is closed when
// ctx is cancelled or the source ends.
type PriceFeed interface {
	Subscribe(ctx context.Context, symbol string) (<-chan Tick, error)
}
