// Package simstate persists sandbox wallets and simulated orders so a
// restarted sandbox bot continues with the same balances.
package simstate

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/storage/jsondoc"
)

// Store persists sandbox state for one scope.
type Store struct {
	path string
}

// NewStore creates a sandbox state store in dir. The scope (usually the bot
// id) names the file; an empty scope falls back to the pair.
func NewStore(dir string, pair domain.Pair, scope string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create sandbox state dir")
	}

	name := sanitizeScope(scope)
	if name == "" {
		name = strings.ToLower(pair.String())
	}

	return &Store{path: filepath.Join(dir, name+".json")}, nil
}

// State is everything the sandbox remembers.
type State struct {
	Wallet map[string]decimal.Decimal    `json:"wallet"`
	Orders map[string]domain.OrderResult `json:"orders"`
	Pair   string                        `json:"pair"`
}

// Load reads sandbox state from disk; nil means nothing was saved yet.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	var state State
	if err := jsondoc.Read(s.path, &state); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read sandbox state")
	}

	if state.Wallet == nil {
		state.Wallet = make(map[string]decimal.Decimal)
	}
	if state.Orders == nil {
		state.Orders = make(map[string]domain.OrderResult)
	}

	return &state, nil
}

// Save writes sandbox state to disk atomically.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	return errors.Wrap(jsondoc.Write(s.path, state), "persist sandbox state")
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
