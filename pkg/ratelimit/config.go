package ratelimit

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where repositories keep their limits document,
// relative to the repository root.
const DefaultConfigPath = ".github/butler-config.yml"

// Config holds the resolved automation limits and toggles for one
// repository.
type Config struct {
	RateLimits        RateLimits      `yaml:"rate_limits"`
	IssueEvaluation   IssueEvaluation `yaml:"issue_evaluation"`
	CodeReview        CodeReview      `yaml:"code_review"`
	ExemptTeamMembers bool            `yaml:"exempt_team_members"`
}

// RateLimits holds the daily quotas. A value of 0 means unlimited.
type RateLimits struct {
	IssuesPerUserPerDay   int `yaml:"issues_per_user_per_day"`
	MentionsPerUserPerDay int `yaml:"mentions_per_user_per_day"`
	ReviewsPerDay         int `yaml:"reviews_per_day"`
}

// IssueEvaluation controls what happens after an issue is judged
// implementable.
type IssueEvaluation struct {
	AutoImplementTeamMemberIssues bool `yaml:"auto_implement_team_member_issues"`
	AutoImplementExternalIssues   bool `yaml:"auto_implement_external_issues"`
}

// CodeReview controls which pull requests get an automated review.
type CodeReview struct {
	MinFilesChanged int  `yaml:"min_files_changed"`
	MaxFilesChanged int  `yaml:"max_files_changed"`
	SkipDraftPRs    bool `yaml:"skip_draft_prs"`
	AllowSkipLabel  bool `yaml:"allow_skip_label"`
}

// DefaultConfig returns the documented defaults, applied whenever the
// limits document is missing or a key is absent.
func DefaultConfig() *Config {
	return &Config{
		RateLimits: RateLimits{
			IssuesPerUserPerDay:   3,
			MentionsPerUserPerDay: 10,
			ReviewsPerDay:         20,
		},
		ExemptTeamMembers: true,
		IssueEvaluation: IssueEvaluation{
			AutoImplementTeamMemberIssues: true,
			AutoImplementExternalIssues:   false,
		},
		CodeReview: CodeReview{
			SkipDraftPRs:    true,
			AllowSkipLabel:  true,
			MinFilesChanged: 1,
			MaxFilesChanged: 50,
		},
	}
}

// ParseConfig decodes a limits document. Decoding runs over a
// pre-filled default struct so partial documents are valid: absent
// keys keep their defaults while explicit zero values (0 = unlimited,
// false) survive.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rate limit config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads the limits document at path, or DefaultConfigPath
// when path is empty. A missing or malformed document is not an
// error: the caller always gets a usable config, worst case all
// defaults.
func LoadConfig(path string) *Config {
	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No rate limit config found, using defaults", "path", path)
		} else {
			slog.Warn("Failed to read rate limit config, using defaults", "path", path, "error", err)
		}
		return DefaultConfig()
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		slog.Warn("Malformed rate limit config, using defaults", "path", path, "error", err)
		return DefaultConfig()
	}
	return cfg
}
