package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbarter/params"
	"github.com/uhyunpark/hyperbarter/pkg/api"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbarter/pkg/chain"
	"github.com/uhyunpark/hyperbarter/pkg/crypto"
	"github.com/uhyunpark/hyperbarter/pkg/metrics"
	"github.com/uhyunpark/hyperbarter/pkg/p2p"
	"github.com/uhyunpark/hyperbarter/pkg/storage"
	"github.com/uhyunpark/hyperbarter/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Storage ----
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	l, err := ledger.Open(db, sugar)
	if err != nil {
		return err
	}

	// ---- Oracle ----
	entries, err := params.LoadFeeds(cfg.Oracle.FeedsFile)
	if err != nil {
		return err
	}
	feeds, err := feedFactory(ctx, cfg, entries, sugar)
	if err != nil {
		return err
	}

	// ---- Exchange ----
	m := metrics.NewExchangeMetrics(nil)
	ex, err := exchange.New(exchange.Config{
		Owner:    cfg.Exchange.Owner,
		Address:  cfg.Exchange.Address,
		FeeRate:  cfg.Exchange.FeeRate,
		PageSize: cfg.Exchange.PageSize,
	}, exchange.Deps{
		Store:   db,
		Ledger:  l,
		Feeds:   feeds,
		Clock:   util.RealClock{},
		Metrics: m,
		Logger:  sugar,
	})
	if err != nil {
		return err
	}
	if err := bootstrapFeeds(ctx, ex, cfg, entries, sugar); err != nil {
		return err
	}

	domain := crypto.EIP712Domain{
		Name:              cfg.Exchange.Name,
		Version:           "1",
		ChainID:           big.NewInt(cfg.Exchange.ChainID),
		VerifyingContract: cfg.Exchange.Address,
	}
	exec := transaction.NewExecutor(ex, transaction.NewVerifier(domain), transaction.NewNonceTracker(db), sugar)

	// ---- API Server ----
	apiServer := api.NewServer(api.Config{
		AllowedOrigins: cfg.API.AllowedOrigins,
		RateLimit:      cfg.API.RateLimit,
		RateBurst:      cfg.API.RateBurst,
		Faucet:         cfg.Node.DevFaucet,
	}, ex, exec, m, sugar)
	if cfg.Node.DevFaucet {
		sugar.Warn("dev_faucet_enabled")
	}

	// ---- Gossip (optional) ----
	if cfg.P2P.Enabled {
		net, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar,
		})
		if err != nil {
			return fmt.Errorf("libp2p: %w", err)
		}
		defer net.Close()

		ex.Subscribe(net.Gossip)
		net.SetHandlers(p2p.Handlers{
			OnEvent: func(_ context.Context, from peer.ID, ev exchange.Event) {
				sugar.Debugw("peer_event", "from", from.String(), "type", ev.Type, "seq", ev.Seq)
				apiServer.Hub().BroadcastToChannel(api.WSMessage{Type: "peer_event", Data: ev}, api.ChannelPeers)
			},
		})
		sugar.Infow("p2p_enabled", "addrs", net.Addrs())
	}

	sugar.Infow("node_starting",
		"owner", ex.Owner().Hex(),
		"exchange", ex.Address().Hex(),
		"fee_rate", ex.FeeRate().String(),
		"feeds", len(ex.PriceFeeds()),
		"last_order", ex.LastOrderID())

	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// feedFactory selects on-chain aggregators when an RPC endpoint is configured
// and static answers from the feeds file otherwise
func feedFactory(ctx context.Context, cfg params.Config, entries []params.FeedEntry, sugar *zap.SugaredLogger) (oracle.FeedFactory, error) {
	if cfg.Oracle.RPCURL != "" {
		client, err := chain.Dial(ctx, cfg.Oracle.RPCURL, chain.DialOptions{
			ChainID: big.NewInt(cfg.Exchange.ChainID),
			Logger:  sugar,
		})
		if err != nil {
			return nil, err
		}
		return oracle.NewChainlinkFactory(client, oracle.ChainlinkOptions{
			CallTimeout: cfg.Oracle.CallTimeout,
			MaxAge:      cfg.Oracle.MaxAge,
			Logger:      sugar,
		}), nil
	}

	book := oracle.NewStaticBook()
	for _, e := range entries {
		answer, _ := e.AnswerInt() // validated by LoadFeeds
		if answer == nil {
			sugar.Warnw("static_feed_without_answer", "name", e.Name, "feed", e.Feed)
			continue
		}
		book.SetPrice(e.FeedAddress(), answer, e.Decimals)
	}
	sugar.Infow("oracle_static", "feeds", len(entries))
	return book, nil
}

// bootstrapFeeds registers the configured feeds as the owner. Feeds already
// bound to the same handle are left alone.
func bootstrapFeeds(ctx context.Context, ex *exchange.Exchange, cfg params.Config, entries []params.FeedEntry, sugar *zap.SugaredLogger) error {
	type binding struct {
		name        string
		asset, feed common.Address
	}
	var bindings []binding
	if cfg.Oracle.BaseAsset != (common.Address{}) {
		bindings = append(bindings, binding{"base", cfg.Oracle.BaseAsset, cfg.Oracle.BaseFeed})
	}
	for _, e := range entries {
		bindings = append(bindings, binding{e.Name, e.AssetAddress(), e.FeedAddress()})
	}

	for _, b := range bindings {
		if h, ok := ex.PriceFeed(b.asset); ok && h == b.feed {
			continue
		}
		if err := ex.RegisterPriceFeed(ctx, ex.Owner(), b.asset, b.feed); err != nil {
			return fmt.Errorf("register feed %s: %w", b.name, err)
		}
		sugar.Infow("feed_bootstrapped", "name", b.name, "asset", b.asset.Hex(), "feed", b.feed.Hex())
	}
	return nil
}
