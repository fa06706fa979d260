package event

import (
	"fmt"
	"time"
)

// PriceTick is one immutable (timestamp, price) observation.
type PriceTick struct {
	Timestamp time.Time
	Price     float64
}

func (t PriceTick) Validate() error {
	if t.Timestamp.IsZero() || t.Timestamp.UnixNano() <= 0 {
		return fmt.Errorf("price tick: timestamp must be positive")
	}
	if t.Price <= 0 {
		return fmt.Errorf("price tick: price must be positive, got %v", t.Price)
	}
	return nil
}
