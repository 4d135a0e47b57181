// Package web exposes the trading core over HTTP: a JSON API and a
// server-sent events stream of portfolio snapshots.
package web

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/stockfolio/internal/domain"
	"github.com/vadiminshakov/stockfolio/internal/events"
	"github.com/vadiminshakov/stockfolio/internal/services/trader"
)

const (
	defaultHeartbeat = 30 * time.Second
	shutdownTimeout  = 5 * time.Second
)

type tradingService interface {
	Buy(ctx context.Context, accountID, symbol string, shares decimal.Decimal) (trader.TradeResult, error)
	Sell(ctx context.Context, accountID, symbol string, shares decimal.Decimal) (trader.TradeResult, error)
	Execute(ctx context.Context, accountID, action, symbol string, shares decimal.Decimal) (trader.TradeResult, error)
	OpenAccount(ctx context.Context, id string, balance *decimal.Decimal) (domain.Account, error)
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (domain.Portfolio, error)
	Portfolio(ctx context.Context, accountID string) (domain.Portfolio, error)
	Valuation(ctx context.Context, accountID string) (domain.Valuation, error)
	ListTransactions(ctx context.Context, accountID string, q domain.TransactionQuery) (domain.TransactionPage, error)
}

type quoteService interface {
	Get(ctx context.Context, symbol string, kind domain.QuoteKind) (domain.Quote, error)
	Basket(ctx context.Context, symbols []string, kind domain.QuoteKind) []domain.Quote
}

type snapshotBus interface {
	Subscribe(accountID string) (*events.Subscription, error)
	Unsubscribe(sub *events.Subscription)
}

// Server is the HTTP gateway.
type Server struct {
	Addr string

	engine    *gin.Engine
	trading   tradingService
	quotes    quoteService
	bus       snapshotBus
	logger    *zap.Logger
	overview  []string
	heartbeat time.Duration
}

type Option func(*Server)

// WithOverviewSymbols sets the basket served by /api/market/overview.
func WithOverviewSymbols(symbols []string) Option {
	return func(s *Server) {
		s.overview = symbols
	}
}

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// NewServer wires the router and middleware.
func NewServer(addr string, trading tradingService, quotes quoteService, bus snapshotBus, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		Addr:      addr,
		trading:   trading,
		quotes:    quotes,
		bus:       bus,
		logger:    logger,
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}

	g := gin.New()
	g.Use(s.requestLogger(), gin.Recovery())

	g.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	accounts := g.Group("/api/accounts")
	accounts.POST("", s.openAccount)
	accounts.POST("/:id/deposit", s.deposit)
	accounts.POST("/:id/buy", s.trade(domain.SideBuy))
	accounts.POST("/:id/sell", s.trade(domain.SideSell))
	accounts.POST("/:id/trade", s.trade(""))
	accounts.GET("/:id/portfolio", s.portfolio)
	accounts.GET("/:id/valuation", s.valuation)
	accounts.GET("/:id/transactions", s.transactions)
	accounts.GET("/:id/stream", s.stream)

	market := g.Group("/api/market")
	market.GET("/quote/:symbol", s.quote)
	market.GET("/overview", s.marketOverview)

	s.engine = g
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

type apiError struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Cause   string `json:"cause,omitempty"`
	Message string `json:"message"`
}

// renderError maps the error taxonomy onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	body := apiError{Status: "fail", Kind: string(kind), Message: err.Error()}

	var de *domain.Error
	if errors.As(err, &de) {
		body.Message = de.Message
	}

	status := http.StatusInternalServerError
	switch kind {
	case domain.KindValidation, domain.KindInsufficientFunds, domain.KindInsufficientShares:
		status = http.StatusBadRequest
	case domain.KindAccountNotFound:
		status = http.StatusNotFound
	case domain.KindQuoteUnavailable:
		cause := domain.QuoteCauseOf(err)
		body.Cause = string(cause)
		status = http.StatusServiceUnavailable
		if cause == domain.CauseNotFound {
			status = http.StatusNotFound
		}
	default:
		body.Status = "error"
		body.Message = "internal server error"
		s.logger.Error("internal_error", zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(status, body)
}

func (s *Server) badRequest(c *gin.Context, format string, args ...any) {
	s.renderError(c, domain.Validationf(format, args...))
}

type openAccountRequest struct {
	ID      string           `json:"id"`
	Balance *decimal.Decimal `json:"balance"`
}

func (s *Server) openAccount(c *gin.Context) {
	var req openAccountRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "invalid request body: %v", err)
			return
		}
	}

	account, err := s.trading.OpenAccount(c.Request.Context(), req.ID, req.Balance)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body: %v", err)
		return
	}

	p, err := s.trading.Deposit(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type tradeRequest struct {
	Action string          `json:"action"`
	Symbol string          `json:"symbol"`
	Shares decimal.Decimal `json:"shares"`
}

// trade handles buy, sell and the generic action route (side == "").
func (s *Server) trade(side domain.Side) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "invalid request body: %v", err)
			return
		}

		ctx, id := c.Request.Context(), c.Param("id")
		var (
			res trader.TradeResult
			err error
		)
		switch side {
		case domain.SideBuy:
			res, err = s.trading.Buy(ctx, id, req.Symbol, req.Shares)
		case domain.SideSell:
			res, err = s.trading.Sell(ctx, id, req.Symbol, req.Shares)
		default:
			res, err = s.trading.Execute(ctx, id, req.Action, req.Symbol, req.Shares)
		}
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) portfolio(c *gin.Context) {
	p, err := s.trading.Portfolio(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) valuation(c *gin.Context) {
	v, err := s.trading.Valuation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) transactions(c *gin.Context) {
	q := domain.TransactionQuery{}
	var err error
	if q.Page, err = intParam(c, "page"); err != nil {
		s.badRequest(c, "invalid page: %v", err)
		return
	}
	if q.Limit, err = intParam(c, "limit"); err != nil {
		s.badRequest(c, "invalid limit: %v", err)
		return
	}
	if v := c.Query("up_to"); v != "" {
		if q.UpToSequence, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.badRequest(c, "invalid up_to: %v", err)
			return
		}
	}

	page, err := s.trading.ListTransactions(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func intParam(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// stream sends the current portfolio, then every committed snapshot of the account.
func (s *Server) stream(c *gin.Context) {
	id := c.Param("id")

	// subscribe before reading so no commit falls between the two
	sub, err := s.bus.Subscribe(id)
	if err != nil {
		s.renderError(c, domain.Validationf("%s", err.Error()))
		return
	}
	defer s.bus.Unsubscribe(sub)

	current, err := s.trading.Portfolio(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("portfolio", current)
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			return true
		case snapshot, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("portfolio", snapshot)
			return true
		}
	})
}

func (s *Server) quote(c *gin.Context) {
	kind, err := domain.ParseQuoteKind(c.Query("kind"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	q, err := s.quotes.Get(c.Request.Context(), symbol, kind)
	if err != nil {
		if domain.KindOf(err) != domain.KindValidation {
			err = domain.QuoteUnavailable(symbol, err)
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) marketOverview(c *gin.Context) {
	quotes := s.quotes.Basket(c.Request.Context(), s.overview, domain.QuoteBursty)
	c.JSON(http.StatusOK, gin.H{
		"quotes":    quotes,
		"requested": len(s.overview),
		"count":     len(quotes),
	})
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with ACME certificates. An HTTP server
// on :80 answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("acme http server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme http server", zap.Error(err))
		}
	}()

	s.logger.Info("https server listening", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
