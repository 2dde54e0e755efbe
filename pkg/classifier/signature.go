package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cyclemanager/cyclemanager/internal/db"
)

const signatureKeyPrefix = "cyclemanager:sig:"

const maxSignatureLength = 400

var (
	uuidPattern  = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	pathPattern  = regexp.MustCompile(`(?:/[\w.\-]+){3,}`)
	numberPattern = regexp.MustCompile(`\d+`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// NormalizeFailureSignature builds a normalized fingerprint from a run's
// error message, collapsing UUIDs, long paths, and numbers so that
// functionally-identical failures compare equal. When failureCode is
// non-empty it is folded into the signature so structurally different
// failures that happen to share surface text never collide.
func NormalizeFailureSignature(errorMessage, failureCode string) string {
	if errorMessage == "" {
		return ""
	}

	s := normalizeMessage(errorMessage)
	s = uuidPattern.ReplaceAllString(s, "<uuid>")
	s = pathPattern.ReplaceAllString(s, "<path>")
	s = numberPattern.ReplaceAllString(s, "<n>")
	s = spacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if len(s) > maxSignatureLength {
		s = s[:maxSignatureLength]
	}

	if failureCode != "" {
		s = "code:" + failureCode + ":" + s
	}
	return s
}

// SignatureDetector checks whether a task keeps failing with the same
// normalized signature, consulting a Redis cache before falling back to the
// run history in Postgres. Redis unavailability never changes the result,
// only its latency.
type SignatureDetector struct {
	rdb      *redis.Client
	queries  *db.Queries
	logger   *slog.Logger
	cacheTTL time.Duration
}

// NewSignatureDetector creates a SignatureDetector backed by the given
// Redis client and persistence gateway.
func NewSignatureDetector(rdb *redis.Client, queries *db.Queries, logger *slog.Logger, cacheTTL time.Duration) *SignatureDetector {
	return &SignatureDetector{rdb: rdb, queries: queries, logger: logger, cacheTTL: cacheTTL}
}

func signatureCacheKey(taskID uuid.UUID) string {
	return signatureKeyPrefix + taskID.String()
}

// HasRepeatedFailureSignature reports whether the last `threshold` terminal
// runs of a task (status failed or cancelled) all share currentSignature.
// threshold<=1 always returns true; an empty signature always returns
// false.
func (d *SignatureDetector) HasRepeatedFailureSignature(ctx context.Context, taskID uuid.UUID, currentSignature string, threshold int) (bool, error) {
	if currentSignature == "" {
		return false, nil
	}
	if threshold <= 1 {
		return true, nil
	}

	if cached, ok := d.cacheGet(ctx, taskID); ok {
		return allMatch(cached, currentSignature, threshold), nil
	}

	runs, err := d.queries.ListRecentTerminalRunsForTask(ctx, taskID, threshold)
	if err != nil {
		return false, fmt.Errorf("loading recent runs for signature check: %w", err)
	}

	signatures := make([]string, 0, len(runs))
	for _, r := range runs {
		var msg, code string
		if r.ErrorMessage != nil {
			msg = *r.ErrorMessage
		}
		if r.ErrorMeta != nil {
			code = r.ErrorMeta.FailureCode
		}
		signatures = append(signatures, NormalizeFailureSignature(msg, code))
	}

	d.cacheSet(ctx, taskID, signatures)

	return allMatch(signatures, currentSignature, threshold), nil
}

func allMatch(signatures []string, current string, threshold int) bool {
	if len(signatures) < threshold {
		return false
	}
	for _, s := range signatures[:threshold] {
		if s != current {
			return false
		}
	}
	return true
}

func (d *SignatureDetector) cacheGet(ctx context.Context, taskID uuid.UUID) ([]string, bool) {
	if d.rdb == nil {
		return nil, false
	}
	val, err := d.rdb.Get(ctx, signatureCacheKey(taskID)).Result()
	if err != nil {
		if err != redis.Nil {
			d.logger.Warn("signature cache lookup failed, falling back to DB", "error", err)
		}
		return nil, false
	}
	var signatures []string
	if err := json.Unmarshal([]byte(val), &signatures); err != nil {
		d.logger.Warn("invalid signature cache payload", "error", err)
		return nil, false
	}
	return signatures, true
}

func (d *SignatureDetector) cacheSet(ctx context.Context, taskID uuid.UUID, signatures []string) {
	if d.rdb == nil {
		return
	}
	payload, err := json.Marshal(signatures)
	if err != nil {
		return
	}
	if err := d.rdb.Set(ctx, signatureCacheKey(taskID), payload, d.cacheTTL).Err(); err != nil {
		d.logger.Warn("failed to warm signature cache", "error", err)
	}
}
