package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"duet/internal/domain"
	"duet/internal/guard"
	"duet/internal/logging"
	"duet/internal/mailbox"
	"duet/internal/relay"
	"duet/internal/storage/boltdb"
	"duet/internal/storage/memory"
	"duet/internal/storage/postgres"
	"duet/internal/storage/redisdb"
)

// RelayNode is an assembled relay: storage backend, guard, mailbox and
// HTTP server.
type RelayNode struct {
	Guard  *guard.Guard
	Server *relay.Server

	cfg     *Config
	log     *zap.Logger
	closers []func()
}

// NewRelayNode opens the configured backend and builds the relay on it.
func NewRelayNode(ctx context.Context, cfg *Config, log *zap.Logger) (*RelayNode, error) {
	n := &RelayNode{cfg: cfg, log: logging.OrNop(log)}

	var (
		dir   domain.PreKeyDirectory
		gs    domain.GuardStore
		queue domain.MessageQueue
	)
	switch cfg.Relay.Backend {
	case BackendMemory:
		s := memory.New()
		dir, gs, queue = s, s, s
	case BackendBolt:
		db, err := boltdb.Open(cfg.Relay.BoltPath)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, func() { _ = db.Close() })
		dir, gs, queue = db, db, db
	case BackendRedis:
		s, err := redisdb.Open(ctx, cfg.Relay.Redis)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, func() { _ = s.Close() })
		dir, gs = s, s
	case BackendPostgres:
		s, err := postgres.Open(ctx, cfg.Relay.Postgres)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, s.Close)
		dir, gs = s, s
	default:
		return nil, fmt.Errorf("unknown relay backend %q", cfg.Relay.Backend)
	}

	if queue == nil {
		q, err := n.openQueue()
		if err != nil {
			n.Close()
			return nil, err
		}
		queue = q
	}

	n.Guard = guard.New(gs, cfg.RelayGuardConfig(), n.log.Named("guard"))
	mb := mailbox.New(n.Guard, queue, n.log.Named("mailbox"))
	n.Server = relay.NewServer(dir, mb, n.log.Named("http"))
	n.log.Info("relay backend ready", zap.String("backend", cfg.Relay.Backend))
	return n, nil
}

// openQueue returns the mailbox for backends that only hold guard and
// directory state.
func (n *RelayNode) openQueue() (domain.MessageQueue, error) {
	if n.cfg.Relay.BoltPath == "" {
		n.log.Warn("mailbox is in memory; queued messages are lost on restart")
		return memory.New(), nil
	}
	db, err := boltdb.Open(n.cfg.Relay.BoltPath)
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, func() { _ = db.Close() })
	return db, nil
}

// Run serves HTTP on the configured address and purges expired guard
// records until ctx is done.
func (n *RelayNode) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              n.cfg.Relay.Listen,
		Handler:           n.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		n.log.Info("relay listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()
	go n.purgeLoop(ctx)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (n *RelayNode) purgeLoop(ctx context.Context) {
	t := time.NewTicker(n.cfg.Guard.PurgeInterval.Duration)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := n.Guard.Purge(ctx); err != nil {
				n.log.Warn("guard purge failed", zap.Error(err))
			}
		}
	}
}

// Close releases the backend.
func (n *RelayNode) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
}
