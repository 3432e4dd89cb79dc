package chain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// rpcServer answers eth_chainId with chainID after failing the first n calls
func rpcServer(t *testing.T, chainID string, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failFirst {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "eth_chainId" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": chainID})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDialRetriesUntilReady(t *testing.T) {
	srv, calls := rpcServer(t, "0x539", 2)

	client, err := Dial(context.Background(), srv.URL, DialOptions{
		ChainID:         big.NewInt(1337),
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	defer client.Close()
	require.Equal(t, int32(3), calls.Load())
}

func TestDialGivesUp(t *testing.T) {
	srv, calls := rpcServer(t, "0x539", 100)

	_, err := Dial(context.Background(), srv.URL, DialOptions{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})
	require.Error(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestDialChainMismatchIsPermanent(t *testing.T) {
	srv, calls := rpcServer(t, "0x1", 0)

	_, err := Dial(context.Background(), srv.URL, DialOptions{
		ChainID:         big.NewInt(1337),
		InitialInterval: time.Millisecond,
	})
	require.ErrorIs(t, err, ErrChainMismatch)
	require.Equal(t, int32(1), calls.Load())
}
