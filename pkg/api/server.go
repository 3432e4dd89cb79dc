package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbarter/pkg/metrics"
)

const (
	maxBodyBytes       = 64 << 10
	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

type Config struct {
	AllowedOrigins []string
	// RateLimit is requests per second across all clients on /api/v1;
	// 0 disables limiting.
	RateLimit float64
	RateBurst int
	// Faucet enables POST /api/v1/faucet.
	Faucet bool
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Server handles REST API and WebSocket connections
type Server struct {
	cfg     Config
	ex      *exchange.Exchange
	exec    *transaction.Executor
	router  *mux.Router
	hub     *Hub // WebSocket hub
	limiter *rate.Limiter
	metrics *metrics.ExchangeMetrics
	log     *zap.SugaredLogger
}

// NewServer creates a new API server. Exchange events are forwarded to the
// WebSocket hub from here on.
func NewServer(cfg Config, ex *exchange.Exchange, exec *transaction.Executor, m *metrics.ExchangeMetrics, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		cfg:     cfg,
		ex:      ex,
		exec:    exec,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		metrics: m,
		log:     log,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}

	ex.Subscribe(s.hub.PublishEvent)
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.instrument, s.rateLimit)

	api.HandleFunc("/info", s.handleGetInfo).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/open", s.handleOpenOrders).Methods("GET")
	api.HandleFunc("/orders/{eid:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{eid:[0-9]+}/fee", s.handleQuoteFee).Methods("GET")
	api.HandleFunc("/orders/{eid:[0-9]+}/events", s.handleOrderEvents).Methods("GET")
	api.HandleFunc("/events", s.handleRecentEvents).Methods("GET")

	// Oracle and treasury
	api.HandleFunc("/feeds", s.handleListFeeds).Methods("GET")
	api.HandleFunc("/feeds/{asset}", s.handleGetFeed).Methods("GET")
	api.HandleFunc("/treasury", s.handleGetTreasury).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/tokens/{token}/balances/{address}", s.handleGetTokenBalance).Methods("GET")
	api.HandleFunc("/tokens/{token}/owners/{id:[0-9]+}", s.handleGetTokenOwner).Methods("GET")

	// Signed requests
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/typed-data", s.handleTypedData).Methods("POST")

	if s.cfg.Faucet {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	gatherer := s.cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// Middleware
// ==============================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by route template and status code
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(route, strconv.Itoa(rec.status))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	domain := s.exec.Verifier().Domain()
	respondJSON(w, ExchangeInfo{
		Owner:       s.ex.Owner().Hex(),
		Address:     s.ex.Address().Hex(),
		FeeRate:     s.ex.FeeRate().String(),
		PageSize:    s.ex.PageSize(),
		LastOrderID: s.ex.LastOrderID(),
		ChainID:     bigString(domain.ChainID),
		DomainName:  domain.Name,
		Version:     domain.Version,
		Now:         s.ex.Now(),
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_page", "page must be an integer")
			return
		}
		page = n
	}

	orders, err := s.ex.ListOrders(page)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, OrdersPage{
		Page:     page,
		PageSize: len(orders),
		LastID:   s.ex.LastOrderID(),
		Orders:   toOrderInfos(orders, s.ex.Now()),
	})
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, toOrderInfos(s.ex.OpenOrders(), s.ex.Now()))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	eid, ok := pathEID(w, r)
	if !ok {
		return
	}
	// empty slots read as zero orders, not 404
	respondJSON(w, toOrderInfo(s.ex.GetOrder(eid), s.ex.Now()))
}

func (s *Server) handleQuoteFee(w http.ResponseWriter, r *http.Request) {
	eid, ok := pathEID(w, r)
	if !ok {
		return
	}
	if s.ex.GetOrder(eid).IsZero() {
		respondError(w, http.StatusNotFound, "order_not_found", "no order in slot "+strconv.FormatUint(eid, 10))
		return
	}
	q, err := s.ex.QuoteFee(r.Context(), eid)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, toFeeQuote(eid, q, s.ex.FeeRate().String()))
}

func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	eid, ok := pathEID(w, r)
	if !ok {
		return
	}
	events, err := s.ex.OrderEvents(eid)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, nonNil(events))
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventsLimit)
	}
	events, err := s.ex.RecentEvents(limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, nonNil(events))
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	handles := s.ex.PriceFeeds()
	feeds := make([]FeedInfo, 0, len(handles))
	for a, h := range handles {
		feeds = append(feeds, s.feedInfo(r.Context(), a, h))
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Asset < feeds[j].Asset })
	respondJSON(w, feeds)
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	a, ok := pathAddress(w, r, "asset")
	if !ok {
		return
	}
	h, found := s.ex.PriceFeed(a)
	if !found {
		respondError(w, http.StatusNotFound, "unknown_price_feed", "no price feed for "+a.Hex())
		return
	}
	respondJSON(w, s.feedInfo(r.Context(), a, h))
}

func (s *Server) feedInfo(ctx context.Context, a, h common.Address) FeedInfo {
	info := FeedInfo{Asset: a.Hex(), Feed: h.Hex()}
	p, err := s.ex.LatestPrice(ctx, a)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Answer = bigString(p.Answer)
	info.Decimals = p.Decimals
	info.Price = p.Value().String()
	if !p.UpdatedAt.IsZero() {
		info.UpdatedAt = p.UpdatedAt.Unix()
	}
	return info
}

func (s *Server) handleGetTreasury(w http.ResponseWriter, r *http.Request) {
	bal := s.ex.TreasuryBalance()
	respondJSON(w, TreasuryInfo{
		Owner:   s.ex.Owner().Hex(),
		Balance: bal.String(),
		Ether:   settlement.FormatWei(bal),
		FeeRate: s.ex.FeeRate().String(),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	nonce, err := s.exec.Nonces().Next(addr)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	bal := s.ex.Ledger().NativeBalance(addr)
	respondJSON(w, AccountInfo{
		Address:   addr.Hex(),
		Balance:   bal.String(),
		Ether:     settlement.FormatWei(bal),
		NextNonce: nonce,
	})
}

func (s *Server) handleGetTokenBalance(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	holder, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	l := s.ex.Ledger()
	kind := "unknown"
	if k, found := l.TokenKind(token); found {
		kind = k.String()
	}
	respondJSON(w, TokenBalance{
		Token:     token.Hex(),
		Holder:    holder.Hex(),
		Kind:      kind,
		Balance:   l.BalanceOf(token, holder).String(),
		Allowance: l.Allowance(token, holder, s.ex.Address()).String(),
	})
}

func (s *Server) handleGetTokenOwner(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	id, _ := new(big.Int).SetString(mux.Vars(r)["id"], 10)

	l := s.ex.Ledger()
	owner, found := l.OwnerOf(token, id)
	if !found {
		respondError(w, http.StatusNotFound, "nonexistent_token", "token "+id.String()+" does not exist")
		return
	}
	operator := s.ex.Address()
	respondJSON(w, TokenOwner{
		Token:    token.Hex(),
		TokenID:  id.String(),
		Owner:    owner.Hex(),
		Approved: l.GetApproved(token, id) == operator || l.IsApprovedForAll(token, owner, operator),
	})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed", "failed to read body: "+err.Error())
		return
	}

	tx, err := transaction.ParseTransaction(body)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	res, err := s.exec.Execute(r.Context(), tx)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.log.Infow("tx_executed", "type", res.Type, "account", res.Account, "nonce", res.Nonce, "eid", res.EID)
	respondJSON(w, SubmitTxResponse{Status: "executed", Result: res})
}

// handleTypedData returns the EIP-712 document a wallet signs for an
// unsigned envelope
func (s *Server) handleTypedData(w http.ResponseWriter, r *http.Request) {
	var tx transaction.SignedTransaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&tx); err != nil {
		respondError(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}
	p, err := tx.Payload()
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	doc, err := s.exec.Verifier().TypedDataJSON(&tx)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, doc)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "malformed", "invalid address")
		return
	}
	to := common.HexToAddress(req.Address)

	mint, err := faucetMint(req, to)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}
	if err := s.ex.Ledger().Update(mint); err != nil {
		s.respondErr(w, err)
		return
	}

	s.log.Infow("faucet_minted", "to", to.Hex(), "token", req.Token, "kind", req.Kind, "amount", req.Amount, "tokenId", req.TokenID)
	respondJSON(w, map[string]string{"status": "minted"})
}

func faucetMint(req FaucetRequest, to common.Address) (func(*ledger.Tx) error, error) {
	parse := func(field, v string) (*big.Int, error) {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok || n.Sign() < 0 {
			return nil, errors.New(field + " must be a non-negative integer")
		}
		return n, nil
	}

	if req.Token == "" {
		amount, err := parse("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		return func(tx *ledger.Tx) error { return tx.Credit(to, amount) }, nil
	}
	if !common.IsHexAddress(req.Token) {
		return nil, errors.New("invalid token address")
	}
	token := common.HexToAddress(req.Token)

	kind, err := asset.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if kind == asset.Unique {
		id, err := parse("tokenId", req.TokenID)
		if err != nil {
			return nil, err
		}
		return func(tx *ledger.Tx) error { return tx.MintUnique(token, to, id) }, nil
	}
	amount, err := parse("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	return func(tx *ledger.Tx) error { return tx.MintFungible(token, to, amount) }, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":    "ok",
		"lastOrder": s.ex.LastOrderID(),
		"wsClients": s.hub.Clients(),
	})
}

// ==============================
// Helper Functions
// ==============================

func pathEID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	eid, err := strconv.ParseUint(mux.Vars(r)["eid"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_eid", err.Error())
		return 0, false
	}
	return eid, true
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := mux.Vars(r)[name]
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid_address", name+" is not an address")
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func nonNil(events []exchange.Event) []exchange.Event {
	if events == nil {
		return []exchange.Event{}
	}
	return events
}

// errorStatus maps an error to its HTTP status and label. Exchange sentinels
// win over the ledger or oracle cause they wrap.
func errorStatus(err error) (int, string) {
	label := exchange.ResultLabel(err)
	switch {
	case errors.Is(err, core.ErrInvalidAsset), errors.Is(err, core.ErrInvalidFeedAddress), errors.Is(err, core.ErrInvalidPage):
		return http.StatusBadRequest, label
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden, label
	case errors.Is(err, core.ErrAlreadyFulfilled), errors.Is(err, core.ErrNothingToWithdraw):
		return http.StatusConflict, label
	case errors.Is(err, core.ErrExpired):
		return http.StatusGone, label
	case errors.Is(err, core.ErrInsufficientFee):
		return http.StatusPaymentRequired, label
	case errors.Is(err, core.ErrUnknownPriceFeed), errors.Is(err, core.ErrTransferUnauthorized), errors.Is(err, core.ErrTransferFailed):
		return http.StatusUnprocessableEntity, label
	}

	switch {
	case errors.Is(err, transaction.ErrMalformed):
		return http.StatusBadRequest, "malformed"
	case errors.Is(err, transaction.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, transaction.ErrInvalidNonce):
		return http.StatusConflict, "invalid_nonce"
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrKindMismatch), errors.Is(err, ledger.ErrTokenExists):
		return http.StatusBadRequest, "invalid_ledger_request"
	case errors.Is(err, ledger.ErrNotOwner), errors.Is(err, ledger.ErrNotApproved):
		return http.StatusForbidden, "not_token_owner"
	case errors.Is(err, ledger.ErrNonexistentToken):
		return http.StatusNotFound, "nonexistent_token"
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable, "oracle_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status, label := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("request_failed", "err", err)
	}
	respondError(w, status, label, err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
