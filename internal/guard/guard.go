package guard

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"duet/internal/domain"
	"duet/internal/logging"
	"duet/internal/metrics"
)

// Config holds the guard windows.
type Config struct {
	MaxMessageAge  time.Duration
	MaxClockSkew   time.Duration
	MaxSequenceGap uint64
	TokenTTL       time.Duration
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageAge:  time.Hour,
		MaxClockSkew:   5 * time.Minute,
		MaxSequenceGap: 1000,
		TokenTTL:       2 * time.Minute,
	}
}

// NonceRetention is how long a seen message ID must be remembered.
func (c Config) NonceRetention() time.Duration {
	return c.MaxMessageAge + c.MaxClockSkew
}

// Validate rejects windows that would disable a check.
func (c Config) Validate() error {
	switch {
	case c.MaxMessageAge <= 0:
		return errors.New("guard: MaxMessageAge must be positive")
	case c.MaxClockSkew < 0:
		return errors.New("guard: MaxClockSkew must not be negative")
	case c.MaxSequenceGap == 0:
		return errors.New("guard: MaxSequenceGap must be positive")
	case c.TokenTTL <= 0:
		return errors.New("guard: TokenTTL must be positive")
	}
	return nil
}

// Guard validates delivery attempts against a GuardStore.
type Guard struct {
	store domain.GuardStore
	cfg   Config
	log   *zap.Logger
	// Now is the clock the windows are measured against.
	Now func() time.Time
}

// New returns a Guard over store.
func New(store domain.GuardStore, cfg Config, log *zap.Logger) *Guard {
	return &Guard{
		store: store,
		cfg:   cfg,
		log:   logging.OrNop(log),
		Now:   time.Now,
	}
}

// ValidateIncoming admits req or rejects it with ErrClockSkewRejected,
// ErrReplayRejected, ErrSequenceRejected or ErrStoreContention.
func (g *Guard) ValidateIncoming(ctx context.Context, req domain.ValidationRequest) (domain.DeliveryToken, error) {
	if req.MessageID == "" || req.Sender == "" || req.Recipient == "" {
		return domain.DeliveryToken{}, domain.NewError(domain.CodeInvalidInput, "message id, sender and recipient are required")
	}
	now := g.Now()
	if err := g.checkWindows(req, now); err != nil {
		return domain.DeliveryToken{}, err
	}

	secret, err := newToken()
	if err != nil {
		return domain.DeliveryToken{}, err
	}
	token := domain.DeliveryToken{
		Token:          secret,
		MessageID:      req.MessageID,
		Sender:         req.Sender,
		Recipient:      req.Recipient,
		SequenceNumber: req.SequenceNumber,
		ExpiresAt:      now.Add(g.cfg.TokenTTL),
	}
	adm := domain.Admission{
		Request:        req,
		NonceExpiresAt: now.Add(g.cfg.NonceRetention()),
		Token:          token,
	}

	if err := g.store.Admit(ctx, adm, g.check(req)); err != nil {
		switch {
		case errors.Is(err, domain.ErrReplayRejected):
			return domain.DeliveryToken{}, g.reject(req, "replay", err)
		case errors.Is(err, domain.ErrSequenceRejected):
			return domain.DeliveryToken{}, g.reject(req, "sequence", err)
		case errors.Is(err, domain.ErrStoreContention):
			return domain.DeliveryToken{}, g.reject(req, "contention", err)
		}
		metrics.GuardDecisionsTotal.WithLabelValues("error").Inc()
		return domain.DeliveryToken{}, fmt.Errorf("guard admit: %w", err)
	}

	metrics.GuardDecisionsTotal.WithLabelValues("accepted").Inc()
	g.log.Debug("delivery admitted",
		zap.String("conversation", req.Conversation().String()),
		zap.Uint64("sequence", req.SequenceNumber))
	return token, nil
}

// errDryRun aborts the admission transaction of Check.
var errDryRun = errors.New("guard: dry run")

// Check runs every check of ValidateIncoming without recording anything.
// The stateful checks run inside an admission transaction that is always
// rolled back.
func (g *Guard) Check(ctx context.Context, req domain.ValidationRequest) error {
	if req.MessageID == "" || req.Sender == "" || req.Recipient == "" {
		return domain.NewError(domain.CodeInvalidInput, "message id, sender and recipient are required")
	}
	now := g.Now()
	if err := g.checkWindows(req, now); err != nil {
		return err
	}
	adm := domain.Admission{Request: req, NonceExpiresAt: now.Add(g.cfg.NonceRetention())}
	check := g.check(req)
	err := g.store.Admit(ctx, adm, func(st domain.ConversationState) error {
		if err := check(st); err != nil {
			return err
		}
		return errDryRun
	})
	switch {
	case err == nil, errors.Is(err, errDryRun):
		return nil
	case errors.Is(err, domain.ErrReplayRejected):
		return g.reject(req, "replay", err)
	case errors.Is(err, domain.ErrSequenceRejected):
		return g.reject(req, "sequence", err)
	case errors.Is(err, domain.ErrStoreContention):
		return g.reject(req, "contention", err)
	}
	return fmt.Errorf("guard check: %w", err)
}

// checkWindows rejects messages that are too old or too far in the future.
func (g *Guard) checkWindows(req domain.ValidationRequest, now time.Time) error {
	if req.Timestamp.Before(now.Add(-g.cfg.MaxMessageAge)) {
		return g.reject(req, "clock_skew", domain.ErrClockSkewRejected)
	}
	if req.Timestamp.After(now.Add(g.cfg.MaxClockSkew)) {
		return g.reject(req, "clock_skew", domain.ErrClockSkewRejected)
	}
	return nil
}

// check runs the stateful checks inside the store transaction.
func (g *Guard) check(req domain.ValidationRequest) func(domain.ConversationState) error {
	return func(st domain.ConversationState) error {
		if st.NonceSeen {
			return domain.ErrReplayRejected
		}
		var last uint64
		if st.HasSequence {
			last = st.LastSequence
		}
		if req.SequenceNumber <= last {
			return domain.NewError(domain.CodeSequenceRejected,
				fmt.Sprintf("sequence %d not above %d", req.SequenceNumber, last))
		}
		if req.SequenceNumber-last > g.cfg.MaxSequenceGap {
			return domain.NewError(domain.CodeSequenceRejected,
				fmt.Sprintf("sequence gap %d exceeds %d", req.SequenceNumber-last, g.cfg.MaxSequenceGap))
		}
		return nil
	}
}

// Redeem consumes token if it is unused, unexpired and was issued for req.
func (g *Guard) Redeem(ctx context.Context, token string, req domain.ValidationRequest) (domain.DeliveryToken, error) {
	if token == "" {
		metrics.TokenRedemptionsTotal.WithLabelValues("rejected").Inc()
		return domain.DeliveryToken{}, domain.ErrTokenRejected
	}
	now := g.Now()
	t, err := g.store.RedeemToken(ctx, token, func(t domain.DeliveryToken) error {
		if !t.Matches(req) || !now.Before(t.ExpiresAt) {
			return domain.ErrTokenRejected
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrTokenRejected) {
			metrics.TokenRedemptionsTotal.WithLabelValues("rejected").Inc()
			return domain.DeliveryToken{}, err
		}
		metrics.TokenRedemptionsTotal.WithLabelValues("error").Inc()
		return domain.DeliveryToken{}, fmt.Errorf("guard redeem: %w", err)
	}
	metrics.TokenRedemptionsTotal.WithLabelValues("redeemed").Inc()
	return t, nil
}

// Purge drops expired nonces and tokens.
func (g *Guard) Purge(ctx context.Context) (int, error) {
	n, err := g.store.Purge(ctx, g.Now())
	if err != nil {
		return 0, fmt.Errorf("guard purge: %w", err)
	}
	metrics.GuardPurgedTotal.Add(float64(n))
	if n > 0 {
		g.log.Info("purged expired guard records", zap.Int("count", n))
	}
	return n, nil
}

func (g *Guard) reject(req domain.ValidationRequest, result string, err error) error {
	metrics.GuardDecisionsTotal.WithLabelValues(result).Inc()
	g.log.Info("delivery rejected",
		zap.String("conversation", req.Conversation().String()),
		zap.String("reason", result),
		zap.Uint64("sequence", req.SequenceNumber))
	return err
}

func newToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
