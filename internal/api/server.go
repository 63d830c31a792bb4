// Package api exposes the auditor's ledger over HTTP: mint listings, the
// swap event log, the aggregated swap graph, and donation intake.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mint-auditor/internal/storage"
	"mint-auditor/internal/wallet"
)

// Store is the slice of the ledger the API reads and writes.
type Store interface {
	GetMint(ctx context.Context, id int64) (storage.Mint, error)
	GetMintByURL(ctx context.Context, url string) (storage.Mint, error)
	ListMints(ctx context.Context) ([]storage.Mint, error)
	InsertMint(ctx context.Context, mint storage.Mint) (storage.Mint, error)
	UpdateMint(ctx context.Context, mint storage.Mint) error
	UpdateMintBalance(ctx context.Context, id int64, balance int64) error
	ListSwapEvents(ctx context.Context, offset, limit int) ([]storage.SwapEvent, error)
	SwapEdges(ctx context.Context) ([]storage.SwapEdge, error)
	SwapStats(ctx context.Context) (storage.SwapStats, error)
}

// Options wire a Server.
type Options struct {
	Store   Store
	Wallets wallet.Dialer
	// PageLimit caps swap-log page sizes; it is also the default page size.
	PageLimit int
}

// Server owns the gin router. Construct with NewServer, then either mount
// Handler on an external listener or call Serve.
type Server struct {
	store     Store
	wallets   wallet.Dialer
	pageLimit int
	router    *gin.Engine
	logger    zerolog.Logger
}

func NewServer(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		store:     opts.Store,
		wallets:   opts.Wallets,
		pageLimit: opts.PageLimit,
		logger:    logger.With().Str("component", "api").Logger(),
	}
	if s.pageLimit <= 0 {
		s.pageLimit = 100
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/mints", s.listMints)
		v1.GET("/mints/:id", s.getMint)
		v1.POST("/mints", s.donate)
		v1.GET("/swaps", s.listSwaps)
		v1.GET("/graph", s.graph)
		v1.GET("/stats", s.stats)
	}

	s.router = router
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve runs the HTTP listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)
		c.Next()
		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listMints(c *gin.Context) {
	mints, err := s.store.ListMints(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	views := make([]mintView, 0, len(mints))
	for _, m := range mints {
		views = append(views, toMintView(m))
	}
	c.JSON(http.StatusOK, gin.H{"mints": views})
}

func (s *Server) getMint(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mint id"})
		return
	}
	mint, err := s.store.GetMint(c.Request.Context(), id)
	if errors.Is(err, storage.ErrMintNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "mint not found"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMintView(mint))
}

type donationRequest struct {
	URL   string `json:"url" binding:"required"`
	Token string `json:"token"`
}

// donate registers a mint, optionally redeeming an ecash token into the
// reserve. Donated amounts raise SumDonations, which is the balance target
// the swap engine rebalances toward.
func (s *Server) donate(c *gin.Context) {
	var req donationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mint url"})
		return
	}
	ctx := c.Request.Context()

	w, err := s.wallets.Wallet(ctx, req.URL)
	if err != nil {
		s.logger.Error().Err(err).Str("mint", req.URL).Msg("wallet unavailable for donation")
		c.JSON(http.StatusBadGateway, gin.H{"error": "wallet unavailable"})
		return
	}

	var amount int64
	if req.Token != "" {
		amount, err = w.Receive(ctx, req.Token)
		if err != nil {
			s.logger.Error().Err(err).Str("mint", req.URL).Msg("token redemption failed")
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "token redemption failed"})
			return
		}
	}
	if err := w.LoadProofs(ctx, true); err != nil {
		s.logger.Warn().Err(err).Str("mint", req.URL).Msg("proof reload after donation failed")
	}
	balance := w.AvailableBalance()

	mint, err := s.store.GetMintByURL(ctx, req.URL)
	switch {
	case errors.Is(err, storage.ErrMintNotFound):
		created, insertErr := s.store.InsertMint(ctx, storage.Mint{
			URL:          req.URL,
			Name:         parsed.Host,
			Balance:      balance,
			SumDonations: amount,
			State:        storage.MintStateUnknown,
		})
		if insertErr != nil {
			s.serverError(c, insertErr)
			return
		}
		c.JSON(http.StatusCreated, toMintView(created))
		return
	case err != nil:
		s.serverError(c, err)
		return
	}

	mint.SumDonations += amount
	mint.Balance = balance
	if err := s.store.UpdateMint(ctx, mint); err != nil {
		s.serverError(c, err)
		return
	}
	if err := s.store.UpdateMintBalance(ctx, mint.ID, balance); err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMintView(mint))
}

func (s *Server) listSwaps(c *gin.Context) {
	offset := intQuery(c, "offset", 0)
	limit := intQuery(c, "limit", s.pageLimit)
	if offset < 0 || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pagination"})
		return
	}
	if limit > s.pageLimit {
		limit = s.pageLimit
	}

	events, err := s.store.ListSwapEvents(c.Request.Context(), offset, limit)
	if err != nil {
		s.serverError(c, err)
		return
	}
	views := make([]swapView, 0, len(events))
	for _, ev := range events {
		views = append(views, toSwapView(ev))
	}
	c.JSON(http.StatusOK, gin.H{"swaps": views, "offset": offset, "limit": limit})
}

// graph returns the mint set as nodes plus the aggregated per-pair swap
// history as edges, ready for map rendering.
func (s *Server) graph(c *gin.Context) {
	ctx := c.Request.Context()
	mints, err := s.store.ListMints(ctx)
	if err != nil {
		s.serverError(c, err)
		return
	}
	edges, err := s.store.SwapEdges(ctx)
	if err != nil {
		s.serverError(c, err)
		return
	}

	nodes := make([]mintView, 0, len(mints))
	for _, m := range mints {
		nodes = append(nodes, toMintView(m))
	}
	edgeViews := make([]edgeView, 0, len(edges))
	for _, e := range edges {
		edgeViews = append(edgeViews, edgeView{
			FromID:      e.FromID,
			ToID:        e.ToID,
			Count:       e.Count,
			TotalAmount: e.TotalAmount,
			TotalFee:    e.TotalFee,
			LastSwap:    e.LastSwap,
			State:       string(e.State),
		})
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "edges": edgeViews})
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.store.SwapStats(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":        stats.Total,
		"failed":       stats.Failed,
		"total_amount": stats.TotalAmount,
		"total_fee":    stats.TotalFee,
		"avg_fee":      stats.AvgFee,
		"avg_time_ms":  stats.AvgTimeMS,
	})
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw, ok := c.GetQuery(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
