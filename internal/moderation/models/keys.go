package models

import "strings"

const (
	identityKeyPrefix = "identity:"
	// IdentityIndexKey is the Redis set holding every known identity.
	IdentityIndexKey = "identities"
)

// IdentityKey returns the Redis key for an identity record.
func IdentityKey(identity string) string {
	return identityKeyPrefix + identity
}

// IdentityFromKey reverses IdentityKey.
func IdentityFromKey(key string) (string, bool) {
	return strings.CutPrefix(key, identityKeyPrefix)
}
