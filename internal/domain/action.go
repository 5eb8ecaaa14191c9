package domain

// Action represents the type of trading action to be performed.
type Action int

const (
	ActionNone Action = iota
	ActionBuy
	ActionSell
)

// action string constants to avoid magic strings
const (
	actionStringNone = "none"
	actionStringBuy  = "buy"
	actionStringSell = "sell"
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionNone:
		return actionStringNone
	case ActionBuy:
		return actionStringBuy
	case ActionSell:
		return actionStringSell
	default:
		return "unknown"
	}
}

// MarshalText keeps persisted actions readable.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a persisted action.
func (a *Action) UnmarshalText(text []byte) error {
	switch string(text) {
	case actionStringNone:
		*a = ActionNone
	case actionStringBuy:
		*a = ActionBuy
	case actionStringSell:
		*a = ActionSell
	default:
		return ErrInvariant
	}

	return nil
}
