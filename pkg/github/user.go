package github

import (
	"context"
	"strings"

	"github.com/codeGROOVE-dev/repo-butler/pkg/cache"
)

// IsUserBot reports whether a username belongs to a bot or service
// account. Responding to bots risks comment loops, so this leans on
// naming patterns rather than an API round trip and errs toward true.
// Classifications are memoized for the life of the client.
func (c *Client) IsUserBot(_ context.Context, username string) bool {
	if username == "" {
		return false
	}

	if info, ok := c.userCache.Get(username); ok {
		return info.UserType == cache.UserTypeBot
	}

	userType := cache.UserTypeUser
	if cache.IsLikelyBot(username) {
		userType = cache.UserTypeBot
	}
	c.userCache.Set(username, userType)

	return userType == cache.UserTypeBot
}

// makeCacheKey creates a cache key from multiple parts.
func makeCacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// sanitizeURLForLogging removes sensitive query parameters from URLs.
// Since GitHub API uses Authorization header (not query params) for tokens,
// we only need to redact actual token/secret parameters if they exist.
func sanitizeURLForLogging(apiURL string) string {
	// GitHub API uses header-based auth, so query params are safe to log
	return apiURL
}
