package automation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseEvent_Issues(t *testing.T) {
	payload := `{
		"action": "opened",
		"issue": {
			"number": 42,
			"user": {"login": "alice"},
			"author_association": "NONE",
			"body": "Something is broken"
		},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`
	ev, err := ParseEvent(EventIssues, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Owner != "acme" || ev.Repo != "widgets" {
		t.Errorf("repository = %s/%s, want acme/widgets", ev.Owner, ev.Repo)
	}
	if ev.Number != 42 || ev.Action != "opened" {
		t.Errorf("number/action = %d/%q", ev.Number, ev.Action)
	}
	if ev.Actor != "alice" || ev.Association != "NONE" {
		t.Errorf("actor = %q (%q)", ev.Actor, ev.Association)
	}
	if ev.Body != "Something is broken" {
		t.Errorf("body = %q", ev.Body)
	}
	if ev.IsPullRequest {
		t.Error("plain issue flagged as pull request")
	}
}

func TestParseEvent_IssueCommentOnPR(t *testing.T) {
	// The issues API represents PR conversations as issues; the
	// pull_request key inside the issue is what tells them apart.
	payload := `{
		"action": "created",
		"issue": {
			"number": 7,
			"user": {"login": "alice"},
			"author_association": "MEMBER",
			"body": "original body",
			"pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/7"}
		},
		"comment": {
			"user": {"login": "bob"},
			"author_association": "CONTRIBUTOR",
			"body": "@repo-butler what does this do?"
		},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`
	ev, err := ParseEvent(EventIssueComment, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.IsPullRequest {
		t.Error("PR conversation not flagged as pull request")
	}
	if ev.Number != 7 {
		t.Errorf("number = %d, want 7", ev.Number)
	}
	// The commenter, not the issue author, is the actor.
	if ev.Actor != "bob" || ev.Association != "CONTRIBUTOR" {
		t.Errorf("actor = %q (%q), want bob (CONTRIBUTOR)", ev.Actor, ev.Association)
	}
	if !strings.Contains(ev.Body, "@repo-butler") {
		t.Errorf("body = %q", ev.Body)
	}
}

func TestParseEvent_IssueCommentOnIssue(t *testing.T) {
	payload := `{
		"action": "created",
		"issue": {"number": 9, "user": {"login": "alice"}, "author_association": "NONE", "body": "x"},
		"comment": {"user": {"login": "carol"}, "author_association": "NONE", "body": "hi"},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`
	ev, err := ParseEvent(EventIssueComment, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.IsPullRequest {
		t.Error("issue conversation flagged as pull request")
	}
	if ev.Actor != "carol" {
		t.Errorf("actor = %q, want carol", ev.Actor)
	}
}

func TestParseEvent_PullRequest(t *testing.T) {
	payload := `{
		"action": "opened",
		"pull_request": {
			"number": 31,
			"user": {"login": "dave"},
			"author_association": "COLLABORATOR",
			"body": "Fixes the widget"
		},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`
	ev, err := ParseEvent(EventPullRequest, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.IsPullRequest || ev.Number != 31 {
		t.Errorf("number/isPR = %d/%v", ev.Number, ev.IsPullRequest)
	}
	if ev.Actor != "dave" || ev.Association != "COLLABORATOR" {
		t.Errorf("actor = %q (%q)", ev.Actor, ev.Association)
	}
}

func TestParseEvent_PullRequestReview(t *testing.T) {
	payload := `{
		"action": "submitted",
		"review": {
			"user": {"login": "erin"},
			"author_association": "MEMBER",
			"body": "@repo-butler is this safe?"
		},
		"pull_request": {"number": 12, "user": {"login": "dave"}},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`
	ev, err := ParseEvent(EventPRReview, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Number != 12 || !ev.IsPullRequest {
		t.Errorf("number/isPR = %d/%v", ev.Number, ev.IsPullRequest)
	}
	if ev.Actor != "erin" || !strings.Contains(ev.Body, "is this safe") {
		t.Errorf("actor/body = %q/%q", ev.Actor, ev.Body)
	}
}

func TestParseEvent_PullRequestReviewComment(t *testing.T) {
	payload := `{
		"action": "created",
		"comment": {
			"user": {"login": "frank"},
			"author_association": "NONE",
			"body": "@repo-butler why this cast?"
		},
		"pull_request": {"number": 3, "user": {"login": "dave"}},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`
	ev, err := ParseEvent(EventPRReviewComment, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Number != 3 || ev.Actor != "frank" {
		t.Errorf("number/actor = %d/%q", ev.Number, ev.Actor)
	}
}

func TestParseEvent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload string
	}{
		{"unsupported event", "workflow_dispatch", `{"repository": {"name": "r", "owner": {"login": "o"}}}`},
		{"malformed JSON", EventIssues, `{"issue": `},
		{"issues without issue", EventIssues, `{"repository": {"name": "r", "owner": {"login": "o"}}}`},
		{"comment without comment", EventIssueComment, `{"issue": {"number": 1}, "repository": {"name": "r", "owner": {"login": "o"}}}`},
		{"pull_request without pull_request", EventPullRequest, `{"repository": {"name": "r", "owner": {"login": "o"}}}`},
		{"review without review", EventPRReview, `{"pull_request": {"number": 1}, "repository": {"name": "r", "owner": {"login": "o"}}}`},
		{"missing repository", EventIssues, `{"issue": {"number": 1, "user": {"login": "a"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEvent(tt.event, []byte(tt.payload)); err == nil {
				t.Errorf("ParseEvent(%s) succeeded, want error", tt.event)
			}
		})
	}
}

func TestLoadEvent(t *testing.T) {
	payload := `{
		"action": "opened",
		"issue": {"number": 5, "user": {"login": "alice"}, "author_association": "NONE", "body": "b"},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`
	path := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GITHUB_EVENT_NAME", EventIssues)
	t.Setenv("GITHUB_EVENT_PATH", path)

	ev, err := LoadEvent()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Number != 5 || ev.Owner != "acme" {
		t.Errorf("event = %+v", ev)
	}
}

func TestLoadEvent_MissingEnv(t *testing.T) {
	t.Setenv("GITHUB_EVENT_NAME", "")
	t.Setenv("GITHUB_EVENT_PATH", "")
	if _, err := LoadEvent(); err == nil {
		t.Error("LoadEvent succeeded without event environment")
	}
}
