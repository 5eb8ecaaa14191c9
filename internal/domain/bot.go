package domain

import "time"

// Bot owns a sequence of deals on one pair.
type Bot struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Config    DealConfig `json:"config"`
	DealMax   int        `json:"deal_max"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ShouldContinue reports whether a successor deal may follow a deal with the
// given sequence number. DealMax zero means unlimited.
func ShouldContinue(dealCount, dealMax int) bool {
	return dealCount < dealMax || dealMax == 0
}
