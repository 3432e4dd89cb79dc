// Package chain connects the node to an Ethereum JSON-RPC endpoint, the
// source of on-chain price feeds.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var ErrChainMismatch = errors.New("rpc endpoint serves another chain")

type DialOptions struct {
	// ChainID, when set, must match the endpoint's eth_chainId.
	ChainID *big.Int
	// MaxAttempts bounds connection attempts; zero means 5.
	MaxAttempts     int
	InitialInterval time.Duration // zero keeps the backoff default
	MaxInterval     time.Duration // zero keeps the backoff default
	Logger          *zap.SugaredLogger
}

// Dial connects to url and confirms the endpoint answers eth_chainId,
// retrying with exponential backoff. A chain id mismatch is not retried.
func Dial(ctx context.Context, url string, opts DialOptions) (*ethclient.Client, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}

	backoffCfg := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		backoffCfg.InitialInterval = opts.InitialInterval
	}
	if opts.MaxInterval > 0 {
		backoffCfg.MaxInterval = opts.MaxInterval
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client, err := connect(ctx, url, opts.ChainID)
		if err == nil {
			log.Infow("rpc_connected", "url", url, "attempt", attempt)
			return client, nil
		}
		if errors.Is(err, ErrChainMismatch) {
			return nil, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = backoffCfg.MaxInterval
		}
		log.Warnw("rpc_dial_failed", "url", url, "attempt", attempt, "retry_in", sleep, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", url, attempts, lastErr)
}

func connect(ctx context.Context, url string, want *big.Int) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	if want != nil && want.Sign() > 0 && id.Cmp(want) != 0 {
		client.Close()
		return nil, fmt.Errorf("%w: got chain %s, want %s", ErrChainMismatch, id, want)
	}
	return client, nil
}
