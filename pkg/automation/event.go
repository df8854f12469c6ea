package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Workflow event names the automation understands.
const (
	EventIssues          = "issues"
	EventIssueComment    = "issue_comment"
	EventPullRequest     = "pull_request"
	EventPRReview        = "pull_request_review"
	EventPRReviewComment = "pull_request_review_comment"
)

// Event is one workflow event normalized across payload shapes. Actor,
// Association and Body describe whoever triggered the event: the issue
// or PR author for open events, the commenter or reviewer otherwise.
type Event struct {
	Name          string
	Action        string
	Owner         string
	Repo          string
	Actor         string
	Association   string
	Body          string
	Number        int
	IsPullRequest bool
}

type eventActor struct {
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	AuthorAssociation string `json:"author_association"`
	Body              string `json:"body"`
}

// ParseEvent normalizes a raw webhook or Actions payload.
func ParseEvent(name string, payload []byte) (*Event, error) {
	var raw struct {
		Repository struct {
			Name  string `json:"name"`
			Owner struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"repository"`
		Issue *struct {
			eventActor
			Number      int            `json:"number"`
			PullRequest map[string]any `json:"pull_request"`
		} `json:"issue"`
		PullRequest *struct {
			eventActor
			Number int `json:"number"`
		} `json:"pull_request"`
		Comment *eventActor `json:"comment"`
		Review  *eventActor `json:"review"`
		Action  string      `json:"action"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s event: %w", name, err)
	}

	ev := &Event{
		Name:   name,
		Action: raw.Action,
		Owner:  raw.Repository.Owner.Login,
		Repo:   raw.Repository.Name,
	}

	setActor := func(a *eventActor) {
		ev.Actor = a.User.Login
		ev.Association = a.AuthorAssociation
		ev.Body = a.Body
	}

	switch name {
	case EventIssues:
		if raw.Issue == nil {
			return nil, fmt.Errorf("%s event without issue", name)
		}
		ev.Number = raw.Issue.Number
		ev.IsPullRequest = raw.Issue.PullRequest != nil
		setActor(&raw.Issue.eventActor)
	case EventIssueComment:
		if raw.Issue == nil || raw.Comment == nil {
			return nil, fmt.Errorf("%s event without issue or comment", name)
		}
		ev.Number = raw.Issue.Number
		ev.IsPullRequest = raw.Issue.PullRequest != nil
		setActor(raw.Comment)
	case EventPullRequest:
		if raw.PullRequest == nil {
			return nil, fmt.Errorf("%s event without pull request", name)
		}
		ev.Number = raw.PullRequest.Number
		ev.IsPullRequest = true
		setActor(&raw.PullRequest.eventActor)
	case EventPRReview:
		if raw.PullRequest == nil || raw.Review == nil {
			return nil, fmt.Errorf("%s event without pull request or review", name)
		}
		ev.Number = raw.PullRequest.Number
		ev.IsPullRequest = true
		setActor(raw.Review)
	case EventPRReviewComment:
		if raw.PullRequest == nil || raw.Comment == nil {
			return nil, fmt.Errorf("%s event without pull request or comment", name)
		}
		ev.Number = raw.PullRequest.Number
		ev.IsPullRequest = true
		setActor(raw.Comment)
	default:
		return nil, fmt.Errorf("unsupported event type: %s", name)
	}

	if ev.Owner == "" || ev.Repo == "" {
		return nil, fmt.Errorf("%s event without repository", name)
	}
	return ev, nil
}

// LoadEvent reads the event GitHub Actions delivered to this workflow
// run, from GITHUB_EVENT_NAME and GITHUB_EVENT_PATH.
func LoadEvent() (*Event, error) {
	name := os.Getenv("GITHUB_EVENT_NAME")
	path := os.Getenv("GITHUB_EVENT_PATH")
	if name == "" || path == "" {
		return nil, errors.New("GITHUB_EVENT_NAME and GITHUB_EVENT_PATH must be set")
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event payload: %w", err)
	}
	return ParseEvent(name, payload)
}
