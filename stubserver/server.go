// Package stubserver is an in-process development operator. It accepts the
// same REST API as the real operator, keeps accounts in a ledger.Book and
// applies transfers immediately, without blocks or proofs.
package stubserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mezonai/mmn-plasma/client"
	"github.com/mezonai/mmn-plasma/exception"
	"github.com/mezonai/mmn-plasma/ledger"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/mezonai/mmn-plasma/transaction"
)

const (
	DefaultMaxOutstanding    = 120000
	DefaultNonceOrderTimeout = 800 * time.Millisecond
)

type Config struct {
	Layout transaction.Layout
	// MaxOutstanding caps transfers being processed at once
	MaxOutstanding int
	// NonceOrderTimeout is how long a transfer with a future nonce waits for
	// its predecessors
	NonceOrderTimeout time.Duration
}

type Server struct {
	cfg    Config
	book   *ledger.Book
	engine *gin.Engine

	mu      sync.Mutex
	changed chan struct{}

	outstanding atomic.Int64
	processed   atomic.Uint64
	rejected    atomic.Uint64
}

func New(cfg Config, book *ledger.Book) *Server {
	if cfg.Layout == (transaction.Layout{}) {
		cfg.Layout = transaction.DefaultLayout()
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = DefaultMaxOutstanding
	}
	if cfg.NonceOrderTimeout <= 0 {
		cfg.NonceOrderTimeout = DefaultNonceOrderTimeout
	}
	if book == nil {
		book = ledger.NewBook(1, true)
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:     cfg,
		book:    book,
		engine:  gin.New(),
		changed: make(chan struct{}),
	}
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group(client.APIPrefix)
	api.POST("/submit_tx", s.SubmitTx)
	api.GET("/account/:id", s.GetAccount)
	api.GET("/status", s.GetStatus)
	api.POST("/depositreq", s.DepositReq)
	api.GET("/address/:addr", s.GetAddress)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Book() *ledger.Book {
	return s.book
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	exception.SafeGo("stubserver-shutdown", func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Warn("STUBSERVER", fmt.Sprintf("shutdown: %v", err))
		}
	})
	logx.Info("STUBSERVER", fmt.Sprintf("operator API listening on %s", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// notify wakes transfers waiting for a nonce
func (s *Server) notify() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Server) changedChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}
