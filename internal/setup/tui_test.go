package setup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/dcaladder/config"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

func TestAnswers_Bot(t *testing.T) {
	a := defaultAnswers()
	a.name = "btc ladder"

	bot, err := a.bot()
	require.NoError(t, err)
	assert.Equal(t, "BTC_USDT", bot.Pair)
	assert.Equal(t, "1000", bot.SandboxWallet)
	assert.Empty(t, bot.FirstOrderLimitPrice)

	a.firstOrderType = string(domain.OrderKindLimit)
	_, err = a.bot()
	require.ErrorIs(t, err, domain.ErrConfig, "limit entry needs a price")

	a.firstOrderLimitPrice = "45000"
	bot, err = a.bot()
	require.NoError(t, err)
	assert.Equal(t, "45000", bot.FirstOrderLimitPrice)
}

func TestWrite_AppendsBots(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultOutput)

	first := defaultAnswers()
	bot, err := first.bot()
	require.NoError(t, err)
	require.NoError(t, write(path, bot))

	second := defaultAnswers()
	second.pair = "ETH_USDT"
	second.exchange = "bybit"
	bot, err = second.bot()
	require.NoError(t, err)
	require.NoError(t, write(path, bot))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Bots, 2)
	assert.Equal(t, "BTC_USDT", cfg.Bots[0].Deal.Pair.String())
	assert.Equal(t, "bybit", cfg.Bots[1].Deal.Exchange)
	assert.True(t, cfg.Bots[1].Deal.Sandbox)
}
