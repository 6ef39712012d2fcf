package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mercury-nju/novamail-sub004/pkg/cache"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
)

const (
	// Validity is how long an issued code can be redeemed.
	Validity = 10 * time.Minute

	// expiredRetention keeps a dead record around after its validity window
	// so a late submission can be answered "expired" instead of "not found".
	expiredRetention = 24 * time.Hour

	keyPrefix = "verify:code:"
)

// validateScript runs the whole lookup-compare-consume sequence inside
// Redis, so two concurrent submissions of the correct code can never both
// succeed: the first DEL wins, the second caller sees not_found. The record
// is stored as "<code>:<unix-expiry>"; now travels in as an argument to keep
// the script deterministic.
var validateScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return 'not_found'
end
local sep = string.find(v, ':')
local code = string.sub(v, 1, sep - 1)
local exp = tonumber(string.sub(v, sep + 1))
if tonumber(ARGV[2]) > exp then
  redis.call('DEL', KEYS[1])
  return 'expired'
end
if code ~= ARGV[1] then
  return 'mismatch'
end
redis.call('DEL', KEYS[1])
return 'ok'
`)

// Store issues and validates single-use email verification codes. At most
// one live code exists per identifier; issuing replaces any prior code.
type Store struct {
	cache *cache.Client
	now   func() time.Time
}

// NewStore creates a verification code store on Redis.
func NewStore(c *cache.Client) *Store {
	return &Store{cache: c, now: time.Now}
}

// WithClock overrides the time source. Used in tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Issue generates a fresh 6-digit code for the identifier, invalidating any
// previously issued code. The code is returned for delivery through the
// email collaborator only; it must never appear in an HTTP response.
func (s *Store) Issue(ctx context.Context, identifier string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	expiresAt := s.now().Add(Validity)
	record := code + ":" + strconv.FormatInt(expiresAt.Unix(), 10)

	// A plain SET overwrites the previous record, which is exactly the
	// single-active-code rule.
	if err := s.cache.Set(ctx, keyPrefix+identifier, record, Validity+expiredRetention); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}

	return code, nil
}

// Validate checks the submitted code and consumes it on success. Returns
// domain.ErrCodeNotFound, domain.ErrCodeExpired or domain.ErrCodeMismatch
// for the business outcomes; only the winning caller of two concurrent
// correct submissions gets nil.
func (s *Store) Validate(ctx context.Context, identifier, code string) error {
	res, err := validateScript.Run(ctx, s.cache.Redis,
		[]string{keyPrefix + identifier},
		code, s.now().Unix(),
	).Text()
	if err != nil {
		return fmt.Errorf("failed to validate code: %w", err)
	}

	switch res {
	case "ok":
		return nil
	case "expired":
		return domain.ErrCodeExpired
	case "mismatch":
		return domain.ErrCodeMismatch
	default:
		return domain.ErrCodeNotFound
	}
}

// PurgeExpired removes records past their validity window and returns how
// many were deleted. Redis TTLs would reap them eventually; the sweep keeps
// the keyspace tight between TTL firings.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	keys, err := s.cache.ScanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to scan codes: %w", err)
	}

	now := s.now().Unix()
	purged := 0
	for _, key := range keys {
		v, err := s.cache.Get(ctx, key)
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return purged, fmt.Errorf("failed to read code record: %w", err)
		}

		sep := strings.LastIndexByte(v, ':')
		if sep < 0 {
			continue
		}
		exp, err := strconv.ParseInt(v[sep+1:], 10, 64)
		if err != nil {
			continue
		}
		if now > exp {
			if err := s.cache.Delete(ctx, key); err != nil {
				return purged, fmt.Errorf("failed to purge code: %w", err)
			}
			purged++
		}
	}

	return purged, nil
}

// generateCode draws a uniform random 6-digit decimal code. Leading zeros
// are allowed: the range is the full 000000-999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
