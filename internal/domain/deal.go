package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DealStatus persisted deal status.
type DealStatus string

const (
	DealStatusOpen   DealStatus = "open"
	DealStatusClosed DealStatus = "closed"
)

// DealState state machine position derived from the record.
type DealState int

const (
	StateAwaitingEntry DealState = iota
	StateAccumulating
	StateClosed
)

func (s DealState) String() string {
	switch s {
	case StateAwaitingEntry:
		return "awaiting_entry"
	case StateAccumulating:
		return "accumulating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OrderPlan is one rung of the ladder.
type OrderPlan struct {
	OrderNo     int             `json:"order_no"`
	Price       decimal.Decimal `json:"price"`
	Average     decimal.Decimal `json:"average"`
	Target      decimal.Decimal `json:"target"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	QuantitySum decimal.Decimal `json:"quantity_sum"`
	AmountSum   decimal.Decimal `json:"amount_sum"`
	Kind        OrderKind       `json:"kind"`
	Filled      bool            `json:"filled"`
	FilledAt    *time.Time      `json:"filled_at,omitempty"`
	// FilledQuantity what the exchange executed. Zero on records written
	// before it was tracked, which count the planned Quantity.
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
}

// Executed returns the quantity the rung actually bought.
func (o OrderPlan) Executed() decimal.Decimal {
	if !o.Filled {
		return decimal.Zero
	}
	if o.FilledQuantity.IsPositive() {
		return o.FilledQuantity
	}

	return o.Quantity
}

// SellResult final exit of a deal.
type SellResult struct {
	Date          time.Time       `json:"date"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Average       decimal.Decimal `json:"average"`
	Target        decimal.Decimal `json:"target"`
	ProfitPercent decimal.Decimal `json:"profit_percent"`
}

// PendingOrder is an order placed on the exchange whose outcome is not yet
// applied to the ladder.
type PendingOrder struct {
	ClientOrderID string          `json:"client_order_id"`
	Action        Action          `json:"action"`
	OrderNo       int             `json:"order_no"`
	Quantity      decimal.Decimal `json:"quantity"`
	QuoteAmount   decimal.Decimal `json:"quote_amount"`
	Price         decimal.Decimal `json:"price"`
	PlacedAt      time.Time       `json:"placed_at"`
}

// DealHealth execution failure bookkeeping.
type DealHealth struct {
	Degraded  bool   `json:"degraded"`
	Failures  int    `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// Deal one full trading cycle for a pair.
type Deal struct {
	ID             string        `json:"id"`
	BotID          string        `json:"bot_id"`
	BotName        string        `json:"bot_name"`
	Pair           Pair          `json:"pair"`
	Exchange       string        `json:"exchange"`
	Status         DealStatus    `json:"status"`
	EntryConfirmed bool          `json:"entry_confirmed"`
	Orders         []OrderPlan   `json:"orders"`
	Sell           *SellResult   `json:"sell,omitempty"`
	DealCount      int           `json:"deal_count"`
	DealMax        int           `json:"deal_max"`
	Config         DealConfig    `json:"config"`
	Pending        *PendingOrder `json:"pending,omitempty"`
	Health         DealHealth    `json:"health"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewDealID builds the deal id from the pair and creation time.
func NewDealID(pair Pair, createdAt time.Time) string {
	return fmt.Sprintf("%s-%d", pair.String(), createdAt.Unix())
}

// NewDeal creates an open deal over a freshly calculated ladder.
func NewDeal(botID, botName string, cfg DealConfig, orders []OrderPlan, dealCount, dealMax int, now time.Time) (Deal, error) {
	if err := cfg.Validate(); err != nil {
		return Deal{}, err
	}
	if dealCount < 1 {
		dealCount = 1
	}

	deal := Deal{
		ID:        NewDealID(cfg.Pair, now),
		BotID:     botID,
		BotName:   botName,
		Pair:      cfg.Pair,
		Exchange:  cfg.Exchange,
		Status:    DealStatusOpen,
		Orders:    append([]OrderPlan(nil), orders...),
		DealCount: dealCount,
		DealMax:   dealMax,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := deal.Validate(); err != nil {
		return Deal{}, err
	}

	return deal, nil
}

// State returns the state machine position.
func (d Deal) State() DealState {
	switch {
	case d.Status == DealStatusClosed:
		return StateClosed
	case d.EntryConfirmed:
		return StateAccumulating
	default:
		return StateAwaitingEntry
	}
}

// IsOpen reports whether the deal still runs.
func (d Deal) IsOpen() bool {
	return d.Status == DealStatusOpen
}

// FilledCount number of filled rungs.
func (d Deal) FilledCount() int {
	n := 0
	for _, o := range d.Orders {
		if !o.Filled {
			break
		}
		n++
	}

	return n
}

// SafetyOrdersUsed number of filled safety rungs.
func (d Deal) SafetyOrdersUsed() int {
	if n := d.FilledCount(); n > 1 {
		return n - 1
	}

	return 0
}

// MaxSafetyOrders number of safety rungs in the ladder.
func (d Deal) MaxSafetyOrders() int {
	if len(d.Orders) == 0 {
		return 0
	}

	return len(d.Orders) - 1
}

// CurrentRung returns the last filled rung.
func (d Deal) CurrentRung() (OrderPlan, bool) {
	n := d.FilledCount()
	if n == 0 {
		return OrderPlan{}, false
	}

	return d.Orders[n-1], true
}

// NextRung returns the first unfilled rung.
func (d Deal) NextRung() (OrderPlan, bool) {
	n := d.FilledCount()
	if n >= len(d.Orders) {
		return OrderPlan{}, false
	}

	return d.Orders[n], true
}

// HeldQuantity base asset bought by the filled rungs. It differs from the
// current rung's QuantitySum when an order filled partially.
func (d Deal) HeldQuantity() decimal.Decimal {
	held := decimal.Zero
	for _, o := range d.Orders {
		held = held.Add(o.Executed())
	}

	return held
}

// AllFilled reports whether the ladder is exhausted.
func (d Deal) AllFilled() bool {
	return len(d.Orders) > 0 && d.FilledCount() == len(d.Orders)
}

// ProfitPercent unrealized profit of the current position at price.
func (d Deal) ProfitPercent(price decimal.Decimal) decimal.Decimal {
	rung, ok := d.CurrentRung()
	if !ok || !rung.Average.IsPositive() {
		return decimal.Zero
	}

	return ProfitPercent(price, rung.Average)
}

// ProfitPercent (price - average) / average * 100 rounded to 2 decimals.
func ProfitPercent(price, average decimal.Decimal) decimal.Decimal {
	if !average.IsPositive() {
		return decimal.Zero
	}

	return price.Sub(average).Div(average).Mul(hundred).Round(2)
}

// Clone returns a deep copy safe to mutate.
func (d Deal) Clone() Deal {
	c := d
	c.Orders = make([]OrderPlan, len(d.Orders))
	for i, o := range d.Orders {
		c.Orders[i] = o
		if o.FilledAt != nil {
			t := *o.FilledAt
			c.Orders[i].FilledAt = &t
		}
	}
	if d.Sell != nil {
		s := *d.Sell
		c.Sell = &s
	}
	if d.Pending != nil {
		p := *d.Pending
		c.Pending = &p
	}

	return c
}

// Validate checks the structural invariants of the record.
func (d Deal) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty deal id", ErrInvariant)
	}
	if len(d.Orders) == 0 {
		return fmt.Errorf("%w: deal %s has no orders", ErrInvariant, d.ID)
	}

	seenUnfilled := false
	for i, o := range d.Orders {
		if o.OrderNo != i+1 {
			return fmt.Errorf("%w: deal %s order %d has number %d", ErrInvariant, d.ID, i+1, o.OrderNo)
		}
		if o.Filled && seenUnfilled {
			return fmt.Errorf("%w: deal %s order %d filled after an unfilled rung", ErrInvariant, d.ID, o.OrderNo)
		}
		if !o.Filled {
			seenUnfilled = true
		}
	}

	if d.EntryConfirmed != d.Orders[0].Filled {
		return fmt.Errorf("%w: deal %s entry flag disagrees with base order", ErrInvariant, d.ID)
	}

	switch d.Status {
	case DealStatusOpen:
		if d.Sell != nil {
			return fmt.Errorf("%w: open deal %s has a sell result", ErrInvariant, d.ID)
		}
	case DealStatusClosed:
		if d.Sell == nil {
			return fmt.Errorf("%w: closed deal %s has no sell result", ErrInvariant, d.ID)
		}
		if d.Pending != nil {
			return fmt.Errorf("%w: closed deal %s has a pending order", ErrInvariant, d.ID)
		}
	default:
		return fmt.Errorf("%w: deal %s has unknown status %q", ErrInvariant, d.ID, d.Status)
	}

	return nil
}
