package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DealEventType lifecycle event kind.
type DealEventType string

const (
	DealEventCreated         DealEventType = "created"
	DealEventResumed         DealEventType = "resumed"
	DealEventEntryFilled     DealEventType = "entry_filled"
	DealEventSafetyFilled    DealEventType = "safety_filled"
	DealEventSold            DealEventType = "sold"
	DealEventExecutionFailed DealEventType = "execution_failed"
	DealEventDegraded        DealEventType = "degraded"
)

// DealEvent lifecycle event of a deal.
type DealEvent struct {
	Time     time.Time       `json:"ts"`
	DealID   string          `json:"deal_id"`
	BotID    string          `json:"bot_id"`
	Pair     string          `json:"pair"`
	Type     DealEventType   `json:"type"`
	OrderNo  int             `json:"order_no,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Message  string          `json:"message,omitempty"`
}

// DealEventRecord bundles an event with its journal index.
type DealEventRecord struct {
	Index uint64
	Event DealEvent
}
