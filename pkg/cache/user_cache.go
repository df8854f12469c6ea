package cache

import (
	"strings"
	"sync"
)

// UserType represents the type of GitHub account.
type UserType string

// GitHub account types.
const (
	UserTypeUser UserType = "User"
	UserTypeOrg  UserType = "Organization"
	UserTypeBot  UserType = "Bot"
)

// UserInfo caches information about a GitHub user.
type UserInfo struct {
	Login    string
	UserType UserType
}

// UserCache caches account-type lookups so the mention flow does not
// re-classify the same commenter on every event.
type UserCache struct {
	users map[string]*UserInfo
	mu    sync.RWMutex
}

// NewUserCache creates a new user cache.
func NewUserCache() *UserCache {
	return &UserCache{
		users: make(map[string]*UserInfo),
	}
}

// Get retrieves user info from cache.
func (uc *UserCache) Get(username string) (*UserInfo, bool) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	info, exists := uc.users[username]
	return info, exists
}

// Set stores user info in cache.
func (uc *UserCache) Set(username string, userType UserType) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.users[username] = &UserInfo{
		Login:    username,
		UserType: userType,
	}
}

// SetIfNotExists stores user info only if absent or if the new type is
// more definitive than a plain user classification.
func (uc *UserCache) SetIfNotExists(username string, userType UserType) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if existing, exists := uc.users[username]; !exists || existing.UserType == UserTypeUser {
		uc.users[username] = &UserInfo{
			Login:    username,
			UserType: userType,
		}
	}
}

// IsLikelyBot checks if a username suggests a bot account. Responding
// to bots risks comment loops, so classification errs toward true.
func IsLikelyBot(username string) bool {
	lower := strings.ToLower(username)

	if strings.HasSuffix(lower, "[bot]") ||
		strings.HasSuffix(lower, "-bot") ||
		strings.HasSuffix(lower, "_bot") ||
		strings.HasSuffix(lower, ".bot") ||
		strings.HasSuffix(lower, "-robot") {
		return true
	}

	if strings.HasPrefix(lower, "bot-") ||
		strings.HasPrefix(lower, "bot_") {
		return true
	}

	knownBots := []string{
		"dependabot",
		"renovate",
		"github-actions",
		"stale",
		"mergify",
		"codecov",
		"coveralls",
		"snyk",
		"greenkeeper",
		"imgbot",
		"allcontributors",
		"netlify",
		"vercel",
		"semantic-release",
		"release-drafter",
		"probot",
		"circleci",
		"travis",
		"jenkins",
	}

	for _, bot := range knownBots {
		if strings.Contains(lower, bot) {
			return true
		}
	}

	if strings.Contains(lower, "automation") ||
		strings.Contains(lower, "automate") ||
		strings.Contains(lower, "ci-bot") ||
		strings.Contains(lower, "cd-bot") {
		return true
	}

	return false
}
