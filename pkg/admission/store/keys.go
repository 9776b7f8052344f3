package store

import "fmt"

// DefaultPrefix is prepended to every key when no prefix is configured.
const DefaultPrefix = "gk"

// Keys builds counter store keys. The tenant is wrapped in a Redis Cluster
// hash tag so all keys of one tenant land in the same slot.
//
// Caller supplied components are length-prefixed, so no choice of tenant,
// user or endpoint can produce another caller's key.
type Keys struct {
	Prefix string
}

// NewKeys returns a key builder with the given prefix.
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{Prefix: prefix}
}

// Window returns the sliding window key for (tenant, user, endpoint).
func (k Keys) Window(tenant, user, endpoint string) string {
	return fmt.Sprintf("%s:rl:%s:%d:%s:%s", k.prefix(), tag(tenant), len(user), user, endpoint)
}

// Counter returns the quota counter key for (tenant, kind, period). Kind and
// period come from fixed vocabularies and need no escaping.
func (k Keys) Counter(tenant, kind, period string) string {
	return fmt.Sprintf("%s:quota:%s:%s:%s", k.prefix(), tag(tenant), kind, period)
}

func tag(tenant string) string {
	return fmt.Sprintf("{%d:%s}", len(tenant), tenant)
}

func (k Keys) prefix() string {
	if k.Prefix == "" {
		return DefaultPrefix
	}
	return k.Prefix
}
