package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ArseniiIvanov/tochka/pkg/exchange"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/orderbook"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/tradelog"
)

// userHeader carries the caller's identity, injected by the auth gateway
// in front of this service.
const userHeader = "X-User-Id"

// Server exposes the exchange over REST and WebSocket.
type Server struct {
	eng    *exchange.Engine
	router *mux.Router
	hub    *Hub
	log    *zap.Logger

	maxDepth   int
	tradeLimit int
}

// Options configures a Server.
type Options struct {
	Engine *exchange.Engine
	Logger *zap.Logger

	// MaxDepth caps the orderbook levels a query may request.
	MaxDepth int
	// TradeLimit caps the trades a history query may request.
	TradeLimit int
}

// NewServer wires routes and the WebSocket hub around an engine.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 100
	}
	if opts.TradeLimit <= 0 {
		opts.TradeLimit = 500
	}

	s := &Server{
		eng:        opts.Engine,
		router:     mux.NewRouter(),
		hub:        NewHub(opts.Logger),
		log:        opts.Logger,
		maxDepth:   opts.MaxDepth,
		tradeLimit: opts.TradeLimit,
	}

	s.setupRoutes()
	return s
}

// BroadcastTrade pushes a trade onto the instrument's feed channel. Safe
// to call from the engine's OnTrade hook.
func (s *Server) BroadcastTrade(t *tradelog.Trade) {
	s.hub.BroadcastToChannel("trades:"+t.Ticker, TradeUpdate{
		Type:      "trade",
		Ticker:    t.Ticker,
		Price:     formatPrice(t.Price),
		Qty:       t.Qty,
		TakerSide: t.TakerSide,
		Timestamp: t.Timestamp,
	})
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Admin endpoints
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/instrument", s.handleCreateInstrument).Methods("POST")
	admin.HandleFunc("/instrument/{ticker}", s.handleDeleteInstrument).Methods("DELETE")
	admin.HandleFunc("/balance/deposit", s.handleDeposit).Methods("POST")
	admin.HandleFunc("/balance/withdraw", s.handleWithdraw).Methods("POST")

	// Public endpoints
	public := api.PathPrefix("/public").Subrouter()
	public.HandleFunc("/instrument", s.handleListInstruments).Methods("GET")
	public.HandleFunc("/orderbook/{ticker}", s.handleGetOrderbook).Methods("GET")
	public.HandleFunc("/transactions/{ticker}", s.handleGetTrades).Methods("GET")

	// User endpoints
	api.HandleFunc("/order", s.withUser(s.handlePlaceOrder)).Methods("POST")
	api.HandleFunc("/order", s.withUser(s.handleListOrders)).Methods("GET")
	api.HandleFunc("/order/{id}", s.withUser(s.handleGetOrder)).Methods("GET")
	api.HandleFunc("/order/{id}", s.withUser(s.handleCancelOrder)).Methods("DELETE")
	api.HandleFunc("/balance", s.withUser(s.handleGetBalance)).Methods("GET")
	api.HandleFunc("/balance/transactions", s.withUser(s.handleUserTrades)).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and blocks serving HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", userHeader},
		AllowCredentials: false,
	})

	s.log.Info("api_listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// withUser requires the identity header and passes it to the handler.
func (s *Server) withUser(h func(w http.ResponseWriter, r *http.Request, user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(userHeader))
		if user == "" {
			respondError(w, http.StatusUnauthorized, "missing user identity", "")
			return
		}
		h(w, r, user)
	}
}

// ==============================
// Admin Handlers
// ==============================

func (s *Server) handleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req CreateInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if _, err := s.eng.CreateInstrument(req.Ticker, req.Name); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, OkResponse{Success: true})
}

func (s *Server) handleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	if err := s.eng.DeleteInstrument(ticker); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, OkResponse{Success: true})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req BalanceChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if _, err := s.eng.Deposit(req.UserID, req.Ticker, req.Amount); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, OkResponse{Success: true})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req BalanceChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if _, err := s.eng.Withdraw(req.UserID, req.Ticker, req.Amount); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, OkResponse{Success: true})
}

// ==============================
// Public Handlers
// ==============================

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	list := s.eng.ListInstruments()
	out := make([]InstrumentInfo, len(list))
	for i, ins := range list {
		out[i] = InstrumentInfo{Ticker: ins.Ticker, Name: ins.Name}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	depth := s.intQuery(r, "limit", 10, s.maxDepth)

	snap, err := s.eng.GetOrderBook(ticker, depth)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	bids := make([]PriceLevel, len(snap.Bids))
	for i, l := range snap.Bids {
		bids[i] = PriceLevel{Price: formatPrice(l.Price), Qty: l.Qty}
	}
	asks := make([]PriceLevel, len(snap.Asks))
	for i, l := range snap.Asks {
		asks[i] = PriceLevel{Price: formatPrice(l.Price), Qty: l.Qty}
	}

	out := OrderbookSnapshot{
		Ticker:    snap.Ticker,
		Bids:      bids,
		Asks:      asks,
		Timestamp: snap.Timestamp,
	}
	if snap.LastPrice > 0 {
		out.LastPrice = formatPrice(snap.LastPrice)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	limit := s.intQuery(r, "limit", 100, s.tradeLimit)

	trades, err := s.eng.TradesByInstrument(ticker, limit)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	respondJSON(w, out)
}

// ==============================
// User Handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request, user string) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	cmd := exchange.PlaceOrderCommand{
		User:   user,
		Ticker: req.Ticker,
		Qty:    req.Qty,
	}

	switch strings.ToUpper(req.Direction) {
	case "BUY":
		cmd.Side = orderbook.Buy
	case "SELL":
		cmd.Side = orderbook.Sell
	default:
		respondError(w, http.StatusBadRequest, "invalid direction", req.Direction)
		return
	}

	switch strings.ToUpper(req.Type) {
	case "LIMIT", "":
		cmd.Type = orderbook.Limit
		price, err := parsePrice(req.Price)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid price", err.Error())
			return
		}
		cmd.Price = price
	case "MARKET":
		cmd.Type = orderbook.Market
		if req.Price != "" {
			respondError(w, http.StatusBadRequest, "market order carries a price", req.Price)
			return
		}
	default:
		respondError(w, http.StatusBadRequest, "invalid order type", req.Type)
		return
	}

	res, err := s.eng.PlaceOrder(cmd)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	out := PlaceOrderResponse{
		OrderID: res.OrderID,
		Status:  res.Status.String(),
		Filled:  res.Filled,
	}
	for _, t := range res.Trades {
		out.Trades = append(out.Trades, tradeInfo(t))
	}
	respondJSON(w, out)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request, user string) {
	orders, err := s.eng.ListOrders(user)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	out := make([]OrderInfo, len(orders))
	for i := range orders {
		out[i] = orderInfo(&orders[i])
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, user string) {
	id := mux.Vars(r)["id"]
	order, err := s.eng.GetOrder(user, id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(&order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request, user string) {
	id := mux.Vars(r)["id"]
	if _, err := s.eng.CancelOrder(user, id); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, OkResponse{Success: true})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, user string) {
	balances := s.eng.GetBalance(user)
	out := make([]BalanceInfo, len(balances))
	for i, b := range balances {
		out[i] = BalanceInfo{Ticker: b.Asset, Available: b.Available, Reserved: b.Reserved}
	}
	respondJSON(w, out)
}

func (s *Server) handleUserTrades(w http.ResponseWriter, r *http.Request, user string) {
	limit := s.intQuery(r, "limit", 100, s.tradeLimit)
	trades, err := s.eng.TradesByUser(user, limit)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	out := make([]UserTradeInfo, len(trades))
	for i, t := range trades {
		out[i] = UserTradeInfo{
			TradeInfo:    tradeInfo(t),
			MakerOrderID: t.MakerOrderID,
			TakerOrderID: t.TakerOrderID,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func tradeInfo(t *tradelog.Trade) TradeInfo {
	return TradeInfo{
		ID:        t.ID,
		Ticker:    t.Ticker,
		Price:     formatPrice(t.Price),
		Qty:       t.Qty,
		TakerSide: t.TakerSide,
		Timestamp: t.Timestamp,
	}
}

func orderInfo(o *orderbook.Order) OrderInfo {
	out := OrderInfo{
		ID:        o.ID,
		Ticker:    o.Ticker,
		Direction: o.Side.String(),
		Type:      o.Type.String(),
		Qty:       o.Qty,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Status:    o.Status.String(),
		Timestamp: o.CreatedAt,
	}
	if o.Type == orderbook.Limit {
		out.Price = formatPrice(o.Price)
	}
	return out
}

// intQuery reads a positive integer query parameter, clamped to max.
func (s *Server) intQuery(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// respondEngineError maps the engine's error taxonomy onto HTTP statuses.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exchange.ErrInvalidOrder),
		errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrInvalidTicker),
		errors.Is(err, exchange.ErrInsufficientBalance):
		status = http.StatusBadRequest
	case errors.Is(err, exchange.ErrOrderNotFound),
		errors.Is(err, exchange.ErrInvalidInstrument):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrAlreadyExists),
		errors.Is(err, exchange.ErrHasOpenOrders),
		errors.Is(err, exchange.ErrAlreadyTerminal):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrBusy):
		status = http.StatusServiceUnavailable
	case errors.Is(err, exchange.ErrInvalidState):
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request_failed", zap.Error(err))
	}
	respondError(w, status, err.Error(), "")
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
