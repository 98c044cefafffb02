package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/observability/metrics"
	"github.com/iliyamo/resident-gate/internal/queue"
	"github.com/iliyamo/resident-gate/internal/utils"
)

// AccessConfig tunes guest tokens and door calls.
type AccessConfig struct {
	MaxTTL       time.Duration // ceiling for IssueGuestToken
	CleanupGrace time.Duration // expired tokens are kept this long
	LinkBaseURL  string
	Door         RetryPolicy
}

// AccessService opens the door for residents and manages guest tokens.
type AccessService struct {
	tokens TokenStore
	levels LevelSource
	door   Door
	pub    Publisher
	log    *zap.Logger
	now    Clock
	cfg    AccessConfig
}

func NewAccessService(tokens TokenStore, levels LevelSource, door Door, pub Publisher, cfg AccessConfig, log *zap.Logger) *AccessService {
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 24 * time.Hour
	}
	return &AccessService{
		tokens: tokens,
		levels: levels,
		door:   door,
		pub:    pub,
		log:    log.Named("access"),
		now:    systemClock,
		cfg:    cfg,
	}
}

// OpenNow triggers the door for a resident. No token is persisted.
func (s *AccessService) OpenNow(ctx context.Context, residentID uint64) error {
	if err := s.requireLevel(ctx, residentID, model.LevelResident); err != nil {
		return err
	}
	req := model.DoorOpenRequest{RequestID: uuid.NewString(), ActorResidentID: residentID, At: s.now()}
	if err := s.triggerDoor(ctx); err != nil {
		req.Outcome, req.Reason = model.OutcomeFailed, "door unavailable"
		s.audit(ctx, req, "resident")
		return err
	}
	req.Outcome = model.OutcomeOpened
	s.audit(ctx, req, "resident")
	s.log.Info("door opened", zap.Uint64("resident_id", residentID), zap.String("request_id", req.RequestID))
	return nil
}

// IssueGuestToken creates a guest token valid for ttl and maxUses
// redemptions. The returned token carries the raw id; it is not stored and
// cannot be recovered later.
func (s *AccessService) IssueGuestToken(ctx context.Context, residentID uint64, ttl time.Duration, maxUses int) (model.AccessToken, error) {
	if err := s.requireLevel(ctx, residentID, model.LevelResident); err != nil {
		return model.AccessToken{}, err
	}
	if ttl < time.Second {
		return model.AccessToken{}, fmt.Errorf("%w: ttl must be at least 1s", ErrValidation)
	}
	if ttl > s.cfg.MaxTTL {
		return model.AccessToken{}, fmt.Errorf("%w: ttl may not exceed %s", ErrValidation, s.cfg.MaxTTL)
	}
	if maxUses <= 0 {
		return model.AccessToken{}, fmt.Errorf("%w: uses must be at least 1", ErrValidation)
	}

	raw, hash, err := utils.NewTokenID()
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("generate token id: %w", err)
	}
	// timestamps are stored as DATETIME(3); the returned expiry must match
	// the stored one
	now := s.now().Truncate(time.Millisecond)
	t := model.AccessToken{
		Hash:          hash,
		IssuerID:      residentID,
		Kind:          model.TokenGuest,
		ExpiresAt:     now.Add(ttl.Truncate(time.Millisecond)),
		UsesRemaining: maxUses,
		MaxUses:       maxUses,
		CreatedAt:     now,
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		metrics.TokensTotal.WithLabelValues(queue.TokenIssued, "error").Inc()
		return model.AccessToken{}, err
	}
	t.ID = raw
	metrics.TokensTotal.WithLabelValues(queue.TokenIssued, "ok").Inc()
	s.log.Info("guest token issued",
		zap.Uint64("issuer_id", residentID),
		zap.String("token", queue.HashPrefix(hash)),
		zap.Time("expires_at", t.ExpiresAt),
		zap.Int("uses", maxUses),
	)
	s.event(ctx, queue.TokenIssued, t, 0)
	return t, nil
}

// GuestLink returns the URL a guest visits to redeem tokenID.
func (s *AccessService) GuestLink(tokenID string) string {
	return strings.TrimRight(s.cfg.LinkBaseURL, "/") + "/v1/guest/" + tokenID
}

// RedeemToken consumes one use of a guest token and opens the door. The
// decrement is atomic per token. When the door cannot be reached the use is
// refunded and ErrTransient returned.
func (s *AccessService) RedeemToken(ctx context.Context, tokenID string) (model.AccessToken, error) {
	hash := utils.HashToken(tokenID)
	req := model.DoorOpenRequest{RequestID: uuid.NewString(), ActorTokenHash: hash, At: s.now()}

	var t model.AccessToken
	var err error
	if tokenID == "" {
		err = ErrNotFound
	} else {
		t, err = s.tokens.Redeem(ctx, hash, req.At)
		err = fromRepo(err)
	}
	if err != nil {
		metrics.TokensTotal.WithLabelValues(queue.TokenRedeemed, resultLabel(err)).Inc()
		if isRedeemRejection(err) {
			req.Outcome, req.Reason = model.OutcomeRejected, err.Error()
			s.audit(ctx, req, "guest")
		}
		return model.AccessToken{}, err
	}

	if err := s.triggerDoor(ctx); err != nil {
		if rerr := s.tokens.Refund(ctx, hash); rerr != nil {
			s.log.Error("refund after door failure failed", zap.String("token", queue.HashPrefix(hash)), zap.Error(rerr))
		} else {
			t.UsesRemaining++
		}
		metrics.TokensTotal.WithLabelValues(queue.TokenRedeemed, "transient").Inc()
		req.Outcome, req.Reason = model.OutcomeFailed, "door unavailable"
		s.audit(ctx, req, "guest")
		return model.AccessToken{}, err
	}

	metrics.TokensTotal.WithLabelValues(queue.TokenRedeemed, "ok").Inc()
	req.Outcome = model.OutcomeOpened
	s.audit(ctx, req, "guest")
	s.log.Info("guest token redeemed", zap.String("token", queue.HashPrefix(hash)), zap.Int("uses_remaining", t.UsesRemaining))
	s.event(ctx, queue.TokenRedeemed, t, 0)
	return t, nil
}

// RevokeToken blocks future redemptions. Only the issuer or an admin may
// revoke; everyone else gets ErrUnauthorized whether or not the token
// exists. Revoking twice succeeds.
func (s *AccessService) RevokeToken(ctx context.Context, tokenID string, byResidentID uint64) error {
	level, err := s.levelOf(ctx, byResidentID)
	if err != nil {
		return err
	}
	hash := utils.HashToken(tokenID)
	t, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		err = fromRepo(err)
		if errors.Is(err, ErrNotFound) && !level.AtLeast(model.LevelAdmin) {
			return ErrUnauthorized
		}
		return err
	}
	if t.IssuerID != byResidentID && !level.AtLeast(model.LevelAdmin) {
		metrics.TokensTotal.WithLabelValues(queue.TokenRevoked, "denied").Inc()
		return ErrUnauthorized
	}
	if err := s.tokens.Revoke(ctx, hash); err != nil {
		return fromRepo(err)
	}
	t.Revoked = true
	metrics.TokensTotal.WithLabelValues(queue.TokenRevoked, "ok").Inc()
	s.log.Info("guest token revoked", zap.String("token", queue.HashPrefix(hash)), zap.Uint64("by_resident_id", byResidentID))
	s.event(ctx, queue.TokenRevoked, t, byResidentID)
	return nil
}

// ListGuestTokens lists the issuer's tokens that can still be redeemed.
func (s *AccessService) ListGuestTokens(ctx context.Context, issuerID uint64) ([]model.AccessToken, error) {
	return s.tokens.ListActiveByIssuer(ctx, issuerID, s.now())
}

// CleanupExpired deletes tokens that expired more than the configured grace
// period ago. Expiry is enforced at redemption regardless.
func (s *AccessService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now().Add(-s.cfg.CleanupGrace))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired tokens removed", zap.Int64("count", n))
	}
	return n, nil
}

func (s *AccessService) triggerDoor(ctx context.Context) error {
	return s.cfg.Door.call(ctx, s.log, "door.trigger_open", s.door.TriggerOpen)
}

func (s *AccessService) levelOf(ctx context.Context, residentID uint64) (model.Level, error) {
	level, err := s.levels.LevelOf(ctx, residentID)
	if errors.Is(err, ErrNotFound) {
		return model.LevelPublic, nil
	}
	return level, err
}

func (s *AccessService) requireLevel(ctx context.Context, residentID uint64, want model.Level) error {
	level, err := s.levelOf(ctx, residentID)
	if err != nil {
		return err
	}
	if !level.AtLeast(want) {
		return ErrUnauthorized
	}
	return nil
}

// audit publishes the door request; publishing never fails the open.
func (s *AccessService) audit(ctx context.Context, req model.DoorOpenRequest, actor string) {
	metrics.DoorOpensTotal.WithLabelValues(actor, string(req.Outcome)).Inc()
	if err := s.pub.Publish(ctx, queue.RoutingAccessAudit, req); err != nil {
		s.log.Warn("publish door audit failed", zap.String("request_id", req.RequestID), zap.Error(err))
	}
}

func (s *AccessService) event(ctx context.Context, op string, t model.AccessToken, actor uint64) {
	ev := queue.TokenEvent{
		Op:            op,
		HashPrefix:    queue.HashPrefix(t.Hash),
		IssuerID:      t.IssuerID,
		ActorID:       actor,
		Kind:          t.Kind.String(),
		UsesRemaining: t.UsesRemaining,
		ExpiresAt:     t.ExpiresAt.UTC().Format(time.RFC3339),
		At:            s.now().Format(time.RFC3339),
	}
	if err := s.pub.Publish(ctx, queue.RoutingAccessEvents, ev); err != nil {
		s.log.Warn("publish token event failed", zap.String("op", op), zap.Error(err))
	}
}

func isRedeemRejection(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrExpired) || errors.Is(err, ErrExhausted)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	}
	return "error"
}
