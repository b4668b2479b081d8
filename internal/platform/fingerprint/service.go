package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/platform/audit"
)

const (
	blockKeyPrefix   = "abuse:block:"
	strikesKeyPrefix = "abuse:strikes:"

	// Strike counters reset if an identity stays quiet for a day.
	strikesTTL = 24 * time.Hour
)

// commands is the slice of redis used by the service. *redis.Client
// satisfies it; tests provide a fake.
type commands interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// Options configures a Service.
type Options struct {
	// StrikeLimit is the number of strikes after which an identity is
	// blocked.
	StrikeLimit int64
	// Lockout is how long a blocked identity stays blocked.
	Lockout time.Duration
	// StrikeOnRequest increments the counter on every check. When false
	// the service only enforces blocks placed by explicit Strike calls.
	StrikeOnRequest bool
}

// Service tracks abuse strikes per caller identity in redis and blocks
// identities that cross the strike limit. Identities are hashed before
// they touch redis so raw addresses are never stored.
type Service struct {
	rdb     commands
	auditor audit.Recorder
	logger  zerolog.Logger
	opts    Options
}

// NewService creates a Service. auditor may be audit.NopRecorder{}.
func NewService(rdb *redis.Client, auditor audit.Recorder, logger zerolog.Logger, opts Options) *Service {
	return newService(rdb, auditor, logger, opts)
}

func newService(rdb commands, auditor audit.Recorder, logger zerolog.Logger, opts Options) *Service {
	if opts.StrikeLimit <= 0 {
		opts.StrikeLimit = 200
	}
	if opts.Lockout <= 0 {
		opts.Lockout = 10 * time.Minute
	}
	return &Service{
		rdb:     rdb,
		auditor: auditor,
		logger:  logger.With().Str("component", "fingerprint").Logger(),
		opts:    opts,
	}
}

// StableHash returns the hex SHA-256 of the identity. Empty identities
// collapse to a shared "unknown" bucket.
func StableHash(identity string) string {
	if identity == "" {
		identity = "unknown"
	}
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// CheckAndStrike reports whether the identity may proceed. A blocked
// identity gets (false, until). Redis being unreachable fails open:
// abuse protection degrades rather than taking the service down.
func (s *Service) CheckAndStrike(ctx context.Context, identity string) (bool, *time.Time) {
	h := StableHash(identity)

	ttl, err := s.rdb.TTL(ctx, blockKeyPrefix+h).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("redis unavailable, allowing request")
		return true, nil
	}
	if ttl > 0 {
		until := time.Now().UTC().Add(ttl)
		return false, &until
	}

	if !s.opts.StrikeOnRequest {
		return true, nil
	}
	return s.strike(ctx, h)
}

// Strike records one strike against the identity regardless of the
// StrikeOnRequest setting. Callers use it to penalize specific behavior
// such as repeated rejected payloads.
func (s *Service) Strike(ctx context.Context, identity string) (bool, *time.Time) {
	return s.strike(ctx, StableHash(identity))
}

func (s *Service) strike(ctx context.Context, hash string) (bool, *time.Time) {
	strikes, err := s.rdb.Incr(ctx, strikesKeyPrefix+hash).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("redis unavailable, allowing request")
		return true, nil
	}
	s.rdb.Expire(ctx, strikesKeyPrefix+hash, strikesTTL)

	if strikes < s.opts.StrikeLimit {
		return true, nil
	}

	until := time.Now().UTC().Add(s.opts.Lockout)
	if err := s.rdb.Set(ctx, blockKeyPrefix+hash, strikes, s.opts.Lockout).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to place abuse block")
		return true, nil
	}

	s.logger.Warn().Str("identity_hash", hash[:12]).Int64("strikes", strikes).Msg("identity blocked")
	s.auditor.Record(ctx, audit.Event{
		EventType:  audit.EventAbuseBlock,
		TargetType: "ip_hash",
		TargetID:   hash[:12],
		Meta:       map[string]any{"strikes": strikes},
	})
	return false, &until
}
