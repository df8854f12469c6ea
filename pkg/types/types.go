// Package types contains shared data structures used across the automation system.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import "time"

// Issue represents a GitHub issue. The issues API also returns pull
// requests; IsPullRequest distinguishes them.
type Issue struct {
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Title             string
	Body              string
	State             string // "open" or "closed"
	Author            string
	AuthorAssociation string // "OWNER", "MEMBER", "COLLABORATOR", "CONTRIBUTOR", "NONE", ...
	Labels            []string
	Number            int
	IsPullRequest     bool
}

// IssueComment represents a single comment on an issue or pull request.
type IssueComment struct {
	CreatedAt         time.Time
	Author            string
	AuthorAssociation string
	Body              string
	ID                int64
}

// NewIssue describes an issue to be created.
type NewIssue struct {
	Title  string
	Body   string
	Labels []string
}

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Title             string
	Body              string
	State             string
	Author            string
	AuthorAssociation string
	Repository        string
	Owner             string
	BaseRef           string
	HeadRef           string
	HeadSHA           string
	Labels            []string
	ChangedFiles      []ChangedFile
	Number            int
	Draft             bool
}

// ChangedFile represents a file changed in a pull request.
type ChangedFile struct {
	Filename  string
	Status    string // "added", "modified", "removed", "renamed"
	Patch     string
	Additions int
	Deletions int
}

// NewPull describes a pull request to be created.
type NewPull struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// Repository holds the repository metadata the automation flows need.
type Repository struct {
	Name          string
	Owner         string
	DefaultBranch string
	Private       bool
}
