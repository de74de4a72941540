package core

import (
	"strings"
	"time"
)

// VersionInfo describes one immutable version of a stored key.
type VersionInfo struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Comment   string    `json:"comment,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	Checksum  string    `json:"checksum,omitempty"`
}

// ResourceUsageEntry is one line of a ResourceAccount's usage history.
type ResourceUsageEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Delta     int64     `json:"delta"`
	Operation string    `json:"operation"`
}

// ResourceAccount tracks a user's storage quota. Invariant: UsedBytes must
// never exceed QuotaBytes at the end of any committed transaction.
type ResourceAccount struct {
	UserID     string               `json:"user_id"`
	QuotaBytes int64                `json:"quota_bytes"`
	UsedBytes  int64                `json:"used_bytes"`
	History    []ResourceUsageEntry `json:"history"`
}

// validateNamespace enforces §3's Namespace invariants: non-empty segments,
// no leading/trailing slash, identifier-safe characters plus '/'.
func validateNamespace(ns string) *VMError {
	if ns == "" {
		return errIoError("namespace must not be empty")
	}
	if strings.HasPrefix(ns, "/") || strings.HasSuffix(ns, "/") {
		return errIoError("namespace must not have leading or trailing slash: " + ns)
	}
	for _, seg := range strings.Split(ns, "/") {
		if seg == "" {
			return errIoError("namespace has an empty segment: " + ns)
		}
		for _, r := range seg {
			if !isIdentSafe(r) {
				return errIoError("namespace segment has an invalid character: " + seg)
			}
		}
	}
	return nil
}

func isIdentSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.':
		return true
	}
	return false
}

// Role names checked by authorize: write and delete require "writer" (or
// "admin" in DefaultNamespace); read requires "reader" or write-level role;
// listing requires read.
const (
	roleWriter = "writer"
	roleReader = "reader"
	roleAdmin  = "admin"
)

// Storage is the namespaced, versioned, identity-gated key/value abstraction
// consumed by the storage opcodes. auth == nil denotes the system/unchecked
// context, permitted only for trusted bootstrap: it bypasses every
// authorization check.
type Storage interface {
	Get(auth *AuthContext, ns, key string) ([]byte, *VMError)
	Set(auth *AuthContext, ns, key string, value []byte) *VMError
	Delete(auth *AuthContext, ns, key string) *VMError
	Contains(auth *AuthContext, ns, key string) bool
	ListKeys(auth *AuthContext, ns, prefix string) ([]string, *VMError)
	GetVersion(auth *AuthContext, ns, key string, version int) ([]byte, *VMError)
	ListVersions(auth *AuthContext, ns, key string) ([]VersionInfo, *VMError)

	BeginTx() *VMError
	CommitTx() *VMError
	RollbackTx() *VMError

	CreateAccount(auth *AuthContext, userID string, quotaBytes int64) *VMError
	CreateNamespace(auth *AuthContext, ns string, quotaBytes int64, parent string) *VMError

	// Account returns a snapshot of the named user's resource account, or
	// nil if none exists.
	Account(userID string) *ResourceAccount
}

// authorize checks auth against the role required for op ("read" or
// "write") within ns, per §4.3's authorization rules. auth == nil (system
// context) always passes.
func authorize(auth *AuthContext, ns, op string) *VMError {
	if auth == nil {
		return nil
	}
	switch op {
	case "write", "delete":
		if auth.hasRoleFor(auth.Identity.ID, ns, roleWriter) || auth.hasRoleFor(auth.Identity.ID, DefaultNamespace, roleAdmin) {
			return nil
		}
		return withCaller(errPermissionDenied(roleWriter, auth.Identity.ID), auth.Identity.ID)
	case "read", "list":
		if auth.hasRoleFor(auth.Identity.ID, ns, roleReader) ||
			auth.hasRoleFor(auth.Identity.ID, ns, roleWriter) ||
			auth.hasRoleFor(auth.Identity.ID, DefaultNamespace, roleAdmin) {
			return nil
		}
		return withCaller(errPermissionDenied(roleReader, auth.Identity.ID), auth.Identity.ID)
	default:
		return withCaller(errPermissionDenied(op, auth.Identity.ID), auth.Identity.ID)
	}
}

func callerOf(auth *AuthContext) string {
	if auth == nil {
		return "system"
	}
	return auth.Identity.ID
}
