// Package bots persists bot records, one JSON document per bot.
package bots

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/storage/jsondoc"
)

// Store is a file-backed bot registry.
type Store struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create bots dir")
	}

	return &Store{dir: dir, now: time.Now}, nil
}

// Register stores bot, replacing the name, config and deal limit of an
// existing record with the same id. A newly registered bot is active; an
// existing one keeps its active flag.
func (s *Store) Register(bot domain.Bot) (domain.Bot, error) {
	if strings.TrimSpace(bot.ID) == "" {
		return domain.Bot{}, errors.Wrap(domain.ErrConfig, "bot id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	existing, err := s.read(bot.ID)
	switch {
	case err == nil:
		existing.Name = bot.Name
		existing.Config = bot.Config
		existing.DealMax = bot.DealMax
		existing.UpdatedAt = now
		bot = existing
	case errors.Is(err, domain.ErrBotNotFound):
		bot.Active = true
		bot.CreatedAt = now
		bot.UpdatedAt = now
	default:
		return domain.Bot{}, err
	}

	if err := jsondoc.Write(s.path(bot.ID), bot); err != nil {
		return domain.Bot{}, errors.Wrapf(err, "write bot %s", bot.ID)
	}

	return bot, nil
}

func (s *Store) Get(id string) (domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(id)
}

// IsActive reports whether the bot may start new deals. Unknown bots are
// inactive.
func (s *Store) IsActive(id string) (bool, error) {
	bot, err := s.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrBotNotFound) {
			return false, nil
		}
		return false, err
	}

	return bot.Active, nil
}

// SetActive flips the active flag of a bot.
func (s *Store) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bot, err := s.read(id)
	if err != nil {
		return err
	}

	bot.Active = active
	bot.UpdatedAt = s.now()

	return errors.Wrapf(jsondoc.Write(s.path(id), bot), "write bot %s", id)
}

// List returns every bot ordered by id.
func (s *Store) List() ([]domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list bots")
	}

	var result []domain.Bot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}

		bot, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		result = append(result, bot)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (s *Store) read(id string) (domain.Bot, error) {
	var bot domain.Bot
	if err := jsondoc.Read(s.path(id), &bot); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Bot{}, errors.Wrapf(domain.ErrBotNotFound, "bot %s", id)
		}
		return domain.Bot{}, errors.Wrapf(err, "read bot %s", id)
	}

	return bot, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
