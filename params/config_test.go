package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, 25, cfg.Exchange.PageSize)
	require.True(t, cfg.Exchange.FeeRate.Equal(decimal.RequireFromString("0.01")))
	require.NotEqual(t, common.Address{}, cfg.Exchange.Owner)
	require.NotEqual(t, common.Address{}, cfg.Exchange.Address)
}

func TestLoadFromEnv(t *testing.T) {
	owner := "0x1111111111111111111111111111111111111111"
	t.Setenv("EXCHANGE_OWNER", owner)
	t.Setenv("EXCHANGE_FEE_RATE", "0.025")
	t.Setenv("EXCHANGE_PAGE_SIZE", "10")
	t.Setenv("API_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("ORACLE_CALL_TIMEOUT_MS", "750")
	t.Setenv("ORACLE_MAX_AGE", "3600")
	t.Setenv("P2P_ENABLED", "true")
	t.Setenv("DEV_FAUCET", "true")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.Equal(t, common.HexToAddress(owner), cfg.Exchange.Owner)
	require.True(t, cfg.Exchange.FeeRate.Equal(decimal.RequireFromString("0.025")))
	require.Equal(t, 10, cfg.Exchange.PageSize)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.API.AllowedOrigins)
	require.Equal(t, 750*time.Millisecond, cfg.Oracle.CallTimeout)
	require.Equal(t, time.Hour, cfg.Oracle.MaxAge)
	require.True(t, cfg.P2P.Enabled)
	require.True(t, cfg.Node.DevFaucet)
}

func TestLoadFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("EXCHANGE_OWNER", "not-an-address")
	t.Setenv("EXCHANGE_FEE_RATE", "-1")
	t.Setenv("EXCHANGE_PAGE_SIZE", "zero")
	t.Setenv("ORACLE_MAX_AGE", "-5")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	def := Default()
	require.Equal(t, def.Exchange.Owner, cfg.Exchange.Owner)
	require.True(t, def.Exchange.FeeRate.Equal(cfg.Exchange.FeeRate))
	require.Equal(t, def.Exchange.PageSize, cfg.Exchange.PageSize)
	require.Equal(t, def.Oracle.MaxAge, cfg.Oracle.MaxAge)
}

func TestStalenessCheckCanBeDisabled(t *testing.T) {
	require.Equal(t, 26*time.Hour, Default().Oracle.MaxAge)

	t.Setenv("ORACLE_MAX_AGE", "0")
	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.Zero(t, cfg.Oracle.MaxAge)
}

func TestLoadFromDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PATH=/tmp/barter-env.db\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("DB_PATH") })

	cfg := LoadFromEnv(path)
	require.Equal(t, "/tmp/barter-env.db", cfg.Storage.Path)
}

func TestParseFeeds(t *testing.T) {
	doc := []byte(`
feeds:
  - name: USDC/ETH
    asset: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
    feed: "0x986b5E1e1755e3C2440e960477f25201B0a8bbD4"
    answer: "250000000000000"
    decimals: 18
  - name: HIGH/USD
    asset: "0x71ab77b7dbb4fa7e017bc15090b2163221420282"
    feed: "0x5C8D8AaB4ffa4652753Df94f299330Bb4479bF85"
`)
	feeds, err := ParseFeeds(doc)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	require.Equal(t, common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), feeds[0].AssetAddress())

	answer, err := feeds[0].AnswerInt()
	require.NoError(t, err)
	require.Equal(t, "250000000000000", answer.String())

	answer, err = feeds[1].AnswerInt()
	require.NoError(t, err)
	require.Nil(t, answer)
}

func TestParseFeedsRejectsBadEntries(t *testing.T) {
	_, err := ParseFeeds([]byte("feeds:\n  - name: x\n    asset: nope\n    feed: \"0x986b5E1e1755e3C2440e960477f25201B0a8bbD4\"\n"))
	require.Error(t, err)

	_, err = ParseFeeds([]byte("feeds:\n  - name: x\n    asset: \"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48\"\n    feed: \"0x986b5E1e1755e3C2440e960477f25201B0a8bbD4\"\n    answer: \"-5\"\n"))
	require.Error(t, err)
}

func TestLoadFeedsMissingFile(t *testing.T) {
	feeds, err := LoadFeeds(filepath.Join(t.TempDir(), "feeds.yaml"))
	require.NoError(t, err)
	require.Empty(t, feeds)
}
