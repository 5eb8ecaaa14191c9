// Package deals persists deal records as one JSON document per deal.
//
// At most one open deal may exist per pair. The guarantee is held by a lock
// file per pair under open/, created with an exclusive link so it holds
// across processes sharing the data directory. The lock names the deal that
// owns the pair and is removed when that deal closes.
package deals

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/storage/jsondoc"
)

const (
	docExt  = ".json"
	lockExt = ".lock"
	openDir = "open"
)

// Filter narrows FindAll. Zero fields match everything.
type Filter struct {
	Status domain.DealStatus
	Pair   domain.Pair
	BotID  string
}

func (f Filter) match(d domain.Deal) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if !f.Pair.IsZero() && d.Pair != f.Pair {
		return false
	}
	if f.BotID != "" && d.BotID != f.BotID {
		return false
	}

	return true
}

type openLock struct {
	DealID string `json:"deal_id"`
}

// Store is a file-backed deal store.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
}

type Option func(*Store)

// WithLogger sets the logger that reports skipped documents.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore opens the store in dir. It releases pair locks left behind by
// deals that closed right before a crash and locks the pair of open deals
// whose creation crashed before the lock was taken.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, openDir), 0o755); err != nil {
		return nil, errors.Wrap(err, "create deals dir")
	}

	s := &Store{dir: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.releaseStaleLocks(); err != nil {
		return nil, err
	}
	if err := s.lockOrphans(); err != nil {
		return nil, err
	}

	return s, nil
}

// Create inserts a new open deal. It fails with domain.ErrOpenDealExists
// when the pair already has an open deal, whichever process created it.
func (s *Store) Create(deal domain.Deal) error {
	if deal.Status != domain.DealStatusOpen {
		return errors.Wrapf(domain.ErrInvariant, "create deal %s with status %s", deal.ID, deal.Status)
	}
	if err := deal.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, ok := s.lockHolder(deal.Pair); ok {
		return errors.Wrapf(domain.ErrOpenDealExists, "pair %s is held by deal %s", deal.Pair, holder)
	}

	docPath := s.docPath(deal.ID)
	if err := jsondoc.WriteExclusive(docPath, deal); err != nil {
		if errors.Is(err, os.ErrExist) {
			return errors.Wrapf(domain.ErrOpenDealExists, "deal %s already exists", deal.ID)
		}
		return errors.Wrapf(err, "write deal %s", deal.ID)
	}

	if err := jsondoc.WriteExclusive(s.lockPath(deal.Pair), openLock{DealID: deal.ID}); err != nil {
		if errors.Is(err, os.ErrExist) {
			holder, _ := s.lockHolder(deal.Pair)
			if holder == deal.ID {
				// another store opening the directory locked our document first
				return nil
			}
			// this document was created above by us alone, so removing it is safe
			_ = os.Remove(docPath)
			return errors.Wrapf(domain.ErrOpenDealExists, "pair %s is held by deal %s", deal.Pair, holder)
		}
		_ = os.Remove(docPath)
		return errors.Wrapf(err, "lock pair %s", deal.Pair)
	}

	return nil
}

// Save replaces a stored deal. Closed deals are immutable; saving over one
// fails with domain.ErrDealClosed. Saving a closed deal releases its pair.
func (s *Store) Save(deal domain.Deal) error {
	_, err := s.UpdateFields(deal.ID, func(d *domain.Deal) error {
		*d = deal.Clone()
		return nil
	})

	return err
}

// UpdateFields applies fn to the stored deal and persists the result.
func (s *Store) UpdateFields(id string, fn func(*domain.Deal) error) (domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(id)
	if err != nil {
		return domain.Deal{}, err
	}
	if current.Status == domain.DealStatusClosed {
		return current, errors.Wrapf(domain.ErrDealClosed, "deal %s", id)
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return current, err
	}
	if next.ID != id || next.Pair != current.Pair {
		return current, errors.Wrapf(domain.ErrInvariant, "deal %s cannot change identity", id)
	}
	if err := next.Validate(); err != nil {
		return current, err
	}

	if err := jsondoc.Write(s.docPath(id), next); err != nil {
		return current, errors.Wrapf(err, "write deal %s", id)
	}

	if next.Status == domain.DealStatusClosed {
		if err := s.releaseLock(next.Pair, id); err != nil {
			return next, err
		}
	}

	return next, nil
}

// Get loads a deal by id.
func (s *Store) Get(id string) (domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(id)
}

// FindOpen returns the open deal of pair, if any.
func (s *Store) FindOpen(pair domain.Pair) (domain.Deal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	holder, ok := s.lockHolder(pair)
	if !ok {
		return domain.Deal{}, false, nil
	}

	deal, err := s.read(holder)
	if err != nil {
		if errors.Is(err, domain.ErrDealNotFound) {
			return domain.Deal{}, false, nil
		}
		return domain.Deal{}, false, err
	}
	if deal.Status != domain.DealStatusOpen {
		return domain.Deal{}, false, nil
	}

	return deal, true, nil
}

// FindAll returns the deals matching filter ordered by creation time.
// Documents that cannot be decoded are logged and skipped.
func (s *Store) FindAll(filter Filter) ([]domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list deals")
	}

	var result []domain.Deal
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, docExt) {
			continue
		}

		deal, err := s.read(strings.TrimSuffix(name, docExt))
		if err != nil {
			if !errors.Is(err, domain.ErrDealNotFound) {
				s.logger.Warn("skipping unreadable deal document", zap.String("file", name), zap.Error(err))
			}
			continue
		}
		if filter.match(deal) {
			result = append(result, deal)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (s *Store) read(id string) (domain.Deal, error) {
	var deal domain.Deal
	if err := jsondoc.Read(s.docPath(id), &deal); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Deal{}, errors.Wrapf(domain.ErrDealNotFound, "deal %s", id)
		}
		return domain.Deal{}, errors.Wrapf(err, "read deal %s", id)
	}

	return deal, nil
}

func (s *Store) lockHolder(pair domain.Pair) (string, bool) {
	var lock openLock
	if err := jsondoc.Read(s.lockPath(pair), &lock); err != nil {
		return "", false
	}

	return lock.DealID, lock.DealID != ""
}

func (s *Store) releaseLock(pair domain.Pair, id string) error {
	if holder, ok := s.lockHolder(pair); !ok || holder != id {
		return nil
	}

	if err := os.Remove(s.lockPath(pair)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "release pair %s", pair)
	}

	return nil
}

func (s *Store) releaseStaleLocks() error {
	entries, err := os.ReadDir(filepath.Join(s.dir, openDir))
	if err != nil {
		return errors.Wrap(err, "list pair locks")
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, lockExt) {
			continue
		}

		path := filepath.Join(s.dir, openDir, name)

		var lock openLock
		if err := jsondoc.Read(path, &lock); err != nil {
			continue
		}

		deal, err := s.read(lock.DealID)
		switch {
		case errors.Is(err, domain.ErrDealNotFound):
		case err != nil:
			return err
		case deal.Status == domain.DealStatusOpen:
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "remove stale lock %s", name)
		}
	}

	return nil
}

// lockOrphans locks the pair of every open deal that has no lock. An orphan
// whose pair is held by another open deal means two deals trade the same
// pair, which needs an operator.
func (s *Store) lockOrphans() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(err, "list deals")
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, docExt) {
			continue
		}

		deal, err := s.read(strings.TrimSuffix(name, docExt))
		if err != nil || deal.Status != domain.DealStatusOpen {
			// unreadable documents are skipped as in FindAll
			continue
		}

		if err := s.lockOrphan(deal); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) lockOrphan(deal domain.Deal) error {
	holder, ok := s.lockHolder(deal.Pair)
	if !ok {
		err := jsondoc.WriteExclusive(s.lockPath(deal.Pair), openLock{DealID: deal.ID})
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return errors.Wrapf(err, "lock pair %s for deal %s", deal.Pair, deal.ID)
		}
		// a concurrent Create or another store took the pair meanwhile
		holder, ok = s.lockHolder(deal.Pair)
	}
	if !ok || holder == deal.ID {
		return nil
	}

	// a Create that lost the race removes its document right away
	if _, err := s.read(deal.ID); errors.Is(err, domain.ErrDealNotFound) {
		return nil
	}
	other, err := s.read(holder)
	if err != nil || other.Status != domain.DealStatusOpen {
		return nil
	}

	return errors.Wrapf(domain.ErrInvariant, "deals %s and %s are both open on pair %s", holder, deal.ID, deal.Pair)
}

func (s *Store) docPath(id string) string {
	return filepath.Join(s.dir, id+docExt)
}

func (s *Store) lockPath(pair domain.Pair) string {
	return filepath.Join(s.dir, openDir, pair.String()+lockExt)
}
