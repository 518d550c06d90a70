package store

import (
	"strings"
	"time"
)

// Key namespace of the store document. All persistent state lives under
// these keys; the cleanup sweep classifies entries by prefix.
const (
	KeyWatchlist     = "watchlist"
	KeyWatchlistMeta = "watchlist_added" // CID -> epoch_s insertion time
	KeyOnlineState   = "online_state"
	KeyAuditJob      = "audit:job"
	KeyLastCleanup   = "_last_cleanup"

	PrefixAuditPartial = "audit:partial:" // + scope
	PrefixAuditArchive = "audit:"         // + scope + ":" + cid
	PrefixRating       = "rating:"        // + cid
	PrefixDivision     = "division:"      // + cid
	PrefixMember       = "member:"        // + cid
	PrefixMemberMeta   = "membermeta:"    // + cid
	PrefixCooldown     = "cooldown:"      // online:<cid>:<CALLSIGN> / offline:<cid> / flag:<cid>
	PrefixQuarterAuto  = "quarter:auto:"  // + YYYYQn
)

// Cache TTLs per key class.
const (
	TTLRating   = 24 * time.Hour
	TTLDivision = 24 * time.Hour
	TTLMember   = 7 * 24 * time.Hour
	TTLAudit    = 24 * time.Hour
)

// AuditPartialKey returns the partial-result key for a scope.
func AuditPartialKey(scope string) string {
	return PrefixAuditPartial + scope
}

// AuditArchiveKey returns the archived per-controller audit key.
func AuditArchiveKey(scope, cid string) string {
	return "audit:" + scope + ":" + cid
}

// RatingKey returns the cached rating key for a CID.
func RatingKey(cid string) string { return PrefixRating + cid }

// MemberKey returns the cached member key for a CID.
func MemberKey(cid string) string { return PrefixMember + cid }

// MemberMetaKey returns the cached member-existence key for a CID.
func MemberMetaKey(cid string) string { return PrefixMemberMeta + cid }

// CooldownOnlineKey returns the online-notification debounce key.
func CooldownOnlineKey(cid, callsign string) string {
	return "cooldown:online:" + cid + ":" + strings.ToUpper(callsign)
}

// CooldownOfflineKey returns the offline-notification debounce key.
func CooldownOfflineKey(cid string) string { return "cooldown:offline:" + cid }

// CooldownFlagKey returns the flag-alert debounce key.
func CooldownFlagKey(cid string) string { return "cooldown:flag:" + cid }

// QuarterAutoKey returns the quarterly idempotency marker key.
func QuarterAutoKey(label string) string { return PrefixQuarterAuto + label }

// cacheTTL returns the relative TTL governing a key, or zero when the key
// is not a TTL-bearing cache entry.
func cacheTTL(key string) time.Duration {
	switch {
	case strings.HasPrefix(key, PrefixRating):
		return TTLRating
	case strings.HasPrefix(key, PrefixDivision):
		return TTLDivision
	case strings.HasPrefix(key, PrefixMember), strings.HasPrefix(key, PrefixMemberMeta):
		return TTLMember
	case key == KeyAuditJob, strings.HasPrefix(key, PrefixAuditPartial):
		return 0 // the job and its partial results are never swept
	case strings.HasPrefix(key, PrefixAuditArchive):
		return TTLAudit
	}
	return 0
}
