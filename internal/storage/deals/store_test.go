package deals

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/storage/jsondoc"
)

var (
	btcUSDT = domain.Pair{From: "BTC", To: "USDT"}
	ethUSDT = domain.Pair{From: "ETH", To: "USDT"}
)

func newDeal(t *testing.T, pair domain.Pair, botID string, createdAt time.Time) domain.Deal {
	t.Helper()

	cfg := domain.DealConfig{
		Pair:              pair,
		Exchange:          "binance",
		FirstOrderAmount:  decimal.NewFromInt(100),
		FirstOrderType:    domain.OrderKindMarket,
		TakeProfitPercent: decimal.NewFromInt(1),
	}
	orders := []domain.OrderPlan{{
		OrderNo:     1,
		Price:       decimal.NewFromInt(50000),
		Average:     decimal.NewFromInt(50000),
		Target:      decimal.NewFromInt(50500),
		Quantity:    decimal.RequireFromString("0.002"),
		Amount:      decimal.NewFromInt(100),
		QuantitySum: decimal.RequireFromString("0.002"),
		AmountSum:   decimal.NewFromInt(100),
		Kind:        domain.OrderKindMarket,
	}}

	deal, err := domain.NewDeal(botID, "bot "+botID, cfg, orders, 1, 0, createdAt)
	require.NoError(t, err)

	return deal
}

func closeDeal(d *domain.Deal, at time.Time) {
	d.Orders[0].Filled = true
	d.EntryConfirmed = true
	d.Status = domain.DealStatusClosed
	d.Sell = &domain.SellResult{
		Date:          at,
		Quantity:      d.Orders[0].QuantitySum,
		Price:         decimal.NewFromInt(50600),
		Average:       d.Orders[0].Average,
		Target:        d.Orders[0].Target,
		ProfitPercent: decimal.NewFromFloat(1.2),
	}
}

func TestStore_CreateAndFindOpen(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	deal := newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))
	require.NoError(t, store.Create(deal))

	found, ok, err := store.FindOpen(btcUSDT)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, deal.ID, found.ID)
	require.Equal(t, "BTC_USDT-1700000000", found.ID)

	_, ok, err = store.FindOpen(ethUSDT)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_OneOpenDealPerPair(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Create(newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))))

	err = store.Create(newDeal(t, btcUSDT, "bot-2", time.Unix(1700000100, 0)))
	require.ErrorIs(t, err, domain.ErrOpenDealExists)

	require.NoError(t, store.Create(newDeal(t, ethUSDT, "bot-3", time.Unix(1700000100, 0))))

	all, err := store.FindAll(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestStore_ConcurrentCreateAcrossStores(t *testing.T) {
	dir := t.TempDir()

	const racers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)

	for i := 0; i < racers; i++ {
		store, err := NewStore(dir)
		require.NoError(t, err)

		deal := newDeal(t, btcUSDT, fmt.Sprintf("bot-%d", i), time.Unix(1700000000+int64(i), 0))

		wg.Add(1)
		go func() {
			defer wg.Done()

			err := store.Create(deal)
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrOpenDealExists)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)

	store, err := NewStore(dir)
	require.NoError(t, err)

	open, err := store.FindAll(Filter{Status: domain.DealStatusOpen, Pair: btcUSDT})
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestStore_ClosingReleasesPair(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	deal := newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))
	require.NoError(t, store.Create(deal))

	closed := deal.Clone()
	closeDeal(&closed, time.Unix(1700000500, 0))
	require.NoError(t, store.Save(closed))

	_, ok, err := store.FindOpen(btcUSDT)
	require.NoError(t, err)
	require.False(t, ok)

	successor := newDeal(t, btcUSDT, "bot-1", time.Unix(1700000600, 0))
	require.NoError(t, store.Create(successor))

	history, err := store.FindAll(Filter{Status: domain.DealStatusClosed})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, deal.ID, history[0].ID)
}

func TestStore_ClosedDealIsImmutable(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	deal := newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))
	require.NoError(t, store.Create(deal))

	closed := deal.Clone()
	closeDeal(&closed, time.Unix(1700000500, 0))
	require.NoError(t, store.Save(closed))

	reopened := closed.Clone()
	reopened.Status = domain.DealStatusOpen
	reopened.Sell = nil
	require.ErrorIs(t, store.Save(reopened), domain.ErrDealClosed)

	_, err = store.UpdateFields(deal.ID, func(d *domain.Deal) error {
		d.BotName = "renamed"
		return nil
	})
	require.ErrorIs(t, err, domain.ErrDealClosed)

	stored, err := store.Get(deal.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DealStatusClosed, stored.Status)
}

func TestStore_UpdateFieldsValidates(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	deal := newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))
	require.NoError(t, store.Create(deal))

	_, err = store.UpdateFields(deal.ID, func(d *domain.Deal) error {
		d.EntryConfirmed = true
		return nil
	})
	require.ErrorIs(t, err, domain.ErrInvariant)

	updated, err := store.UpdateFields(deal.ID, func(d *domain.Deal) error {
		d.Health.Failures = 2
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Health.Failures)

	_, err = store.UpdateFields("missing", func(*domain.Deal) error { return nil })
	require.ErrorIs(t, err, domain.ErrDealNotFound)
}

func TestStore_FindAllFilters(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	first := newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))
	require.NoError(t, store.Create(first))
	closed := first.Clone()
	closeDeal(&closed, time.Unix(1700000100, 0))
	require.NoError(t, store.Save(closed))

	require.NoError(t, store.Create(newDeal(t, btcUSDT, "bot-1", time.Unix(1700000200, 0))))
	require.NoError(t, store.Create(newDeal(t, ethUSDT, "bot-2", time.Unix(1700000300, 0))))

	byBot, err := store.FindAll(Filter{BotID: "bot-1"})
	require.NoError(t, err)
	require.Len(t, byBot, 2)
	require.True(t, byBot[0].CreatedAt.Before(byBot[1].CreatedAt))

	openBTC, err := store.FindAll(Filter{Status: domain.DealStatusOpen, Pair: btcUSDT})
	require.NoError(t, err)
	require.Len(t, openBTC, 1)
	require.Equal(t, "BTC_USDT-1700000200", openBTC[0].ID)
}

func TestNewStore_ReleasesStaleLock(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)

	deal := newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))
	require.NoError(t, store.Create(deal))

	// simulate a crash between writing the closed record and releasing the pair
	closed := deal.Clone()
	closeDeal(&closed, time.Unix(1700000100, 0))
	require.NoError(t, store.Save(closed))
	require.NoError(t, os.WriteFile(filepath.Join(dir, openDir, btcUSDT.String()+lockExt), []byte(`{"deal_id":"`+deal.ID+`"}`), 0o644))

	reopened, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, reopened.Create(newDeal(t, btcUSDT, "bot-1", time.Unix(1700000200, 0))))
}

func TestNewStore_LocksOrphanedOpenDeal(t *testing.T) {
	dir := t.TempDir()

	_, err := NewStore(dir)
	require.NoError(t, err)

	// a crash after writing the document and before taking the pair lock
	orphan := newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))
	require.NoError(t, jsondoc.WriteExclusive(filepath.Join(dir, orphan.ID+docExt), orphan))

	reopened, err := NewStore(dir)
	require.NoError(t, err)

	err = reopened.Create(newDeal(t, btcUSDT, "bot-2", time.Unix(1700000100, 0)))
	require.ErrorIs(t, err, domain.ErrOpenDealExists)

	found, ok, err := reopened.FindOpen(btcUSDT)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, orphan.ID, found.ID)

	open, err := reopened.FindAll(Filter{Status: domain.DealStatusOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestNewStore_RefusesTwoOpenDealsOnPair(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create(newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))))

	orphan := newDeal(t, btcUSDT, "bot-2", time.Unix(1700000100, 0))
	require.NoError(t, jsondoc.WriteExclusive(filepath.Join(dir, orphan.ID+docExt), orphan))

	_, err = NewStore(dir)
	require.ErrorIs(t, err, domain.ErrInvariant)
}

func TestStore_FindAllSkipsUnreadableDocument(t *testing.T) {
	dir := t.TempDir()

	core, logs := observer.New(zap.WarnLevel)
	store, err := NewStore(dir, WithLogger(zap.New(core)))
	require.NoError(t, err)

	deal := newDeal(t, btcUSDT, "bot-1", time.Unix(1700000000, 0))
	require.NoError(t, store.Create(deal))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ETH_USDT-1700000100"+docExt), []byte(`{"id": "ETH_USDT-17`), 0o644))

	all, err := store.FindAll(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, deal.ID, all[0].ID)

	entries := logs.FilterMessage("skipping unreadable deal document").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ETH_USDT-1700000100"+docExt, entries[0].ContextMap()["file"])
}
