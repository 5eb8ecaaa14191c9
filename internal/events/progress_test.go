package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

func TestProgressBroadcaster_PublishAndLatest(t *testing.T) {
	b := NewProgressBroadcaster(1)
	ch := b.Subscribe()

	first := domain.DealProgress{DealID: "BTC_USDT-1", State: domain.StateAccumulating.String(), UpdatedAt: time.Unix(1, 0)}
	b.Observe(first)

	select {
	case got := <-ch:
		require.Equal(t, first, got)
	case <-time.After(time.Second):
		t.Fatal("progress was not delivered")
	}

	// the buffer holds one entry; the second publish is dropped for this reader
	b.Observe(domain.DealProgress{DealID: "ETH_USDT-1", State: domain.StateAwaitingEntry.String()})
	b.Observe(domain.DealProgress{DealID: "ETH_USDT-1", State: domain.StateAccumulating.String()})
	require.Len(t, ch, 1)

	latest := b.Latest()
	require.Len(t, latest, 2)
	require.Equal(t, "BTC_USDT-1", latest[0].DealID)
	require.Equal(t, domain.StateAccumulating.String(), latest[1].State)

	b.Observe(domain.DealProgress{DealID: "BTC_USDT-1", State: domain.StateClosed.String()})
	require.Len(t, b.Latest(), 1)

	b.Forget("ETH_USDT-1")
	require.Empty(t, b.Latest())

	b.Unsubscribe(ch)
	_, open := <-ch
	for open {
		_, open = <-ch
	}
	b.Unsubscribe(ch)
}
