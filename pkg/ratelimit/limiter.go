package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// systemActor is the synthetic actor the global review counter is
// recorded under.
const systemActor = "system"

// Decision reasons that never touch the ledger.
const (
	reasonExempt    = "team member - exempt from rate limits"
	reasonUnlimited = "unlimited - no daily limit configured"
)

// Deny reason formats, filled with current usage and the limit.
const (
	denyIssueFormat   = "rate limit exceeded: %d/%d issue evaluations today"
	denyMentionFormat = "rate limit exceeded: %d/%d mention responses today"
	denyReviewFormat  = "daily review limit exceeded: %d/%d reviews today"
)

// Decision is the outcome of one admission check. A deny is a normal
// result, not an error; errors mean the check itself could not run.
type Decision struct {
	Reason  string
	Allowed bool
}

// Limiter runs admission checks against the usage ledger. A ledger
// failure fails the check rather than allowing unmetered actions.
type Limiter struct {
	cfg    *Config
	ledger Ledger
	logger *slog.Logger
	now    func() time.Time
}

// New creates a limiter. A nil config means defaults; a nil logger
// means slog.Default.
func New(cfg *Config, ledger Ledger, logger *slog.Logger) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{cfg: cfg, ledger: ledger, logger: logger, now: time.Now}
}

// Config returns the limits the limiter was built with.
func (l *Limiter) Config() *Config {
	return l.cfg
}

// IsTeamMember reports whether an author association qualifies as a
// team member for exemption and auto-implementation purposes.
func IsTeamMember(association string) bool {
	switch association {
	case "OWNER", "MEMBER", "COLLABORATOR":
		return true
	default:
		return false
	}
}

// ShouldAutoImplement reports whether an implementable issue from an
// author with this association should get a draft implementation, not
// just an evaluation comment. Pure config lookup; never touches the
// ledger.
func (l *Limiter) ShouldAutoImplement(association string) bool {
	if IsTeamMember(association) {
		return l.cfg.IssueEvaluation.AutoImplementTeamMemberIssues
	}
	return l.cfg.IssueEvaluation.AutoImplementExternalIssues
}

// CheckIssueEvaluation decides whether the bot may evaluate an issue
// opened by actor. Team members are exempt when configured; otherwise
// the per-actor daily limit applies and an allow is recorded.
func (l *Limiter) CheckIssueEvaluation(ctx context.Context, actor, association string) (Decision, error) {
	if l.cfg.ExemptTeamMembers && IsTeamMember(association) {
		return Decision{Allowed: true, Reason: reasonExempt}, nil
	}
	return l.check(ctx, actor, OpIssueEval, l.cfg.RateLimits.IssuesPerUserPerDay, false, denyIssueFormat)
}

// CheckMentionResponse decides whether the bot may respond to a
// mention from actor. Team members are exempt when configured;
// otherwise the per-actor daily limit applies and an allow is recorded.
func (l *Limiter) CheckMentionResponse(ctx context.Context, actor, association string) (Decision, error) {
	if l.cfg.ExemptTeamMembers && IsTeamMember(association) {
		return Decision{Allowed: true, Reason: reasonExempt}, nil
	}
	return l.check(ctx, actor, OpMention, l.cfg.RateLimits.MentionsPerUserPerDay, false, denyMentionFormat)
}

// CheckCodeReview decides whether the bot may review another pull
// request today. The review budget is global: usage is summed across
// all actors and recorded under the system actor. No exemption applies.
func (l *Limiter) CheckCodeReview(ctx context.Context) (Decision, error) {
	return l.check(ctx, systemActor, OpReview, l.cfg.RateLimits.ReviewsPerDay, true, denyReviewFormat)
}

// check runs the shared admission state machine: resolve the limit,
// read today's snapshot, compare, record the new count on allow. The
// zero limit short-circuits as unlimited before any ledger access.
func (l *Limiter) check(ctx context.Context, actor string, op Operation, limit int, global bool, denyFormat string) (Decision, error) {
	if limit == 0 {
		return Decision{Allowed: true, Reason: reasonUnlimited}, nil
	}

	today := DayKey(l.now())
	handle, err := l.ledger.Ensure(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check for %s failed: %w", op, err)
	}
	entries, err := l.ledger.Entries(ctx, handle)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check for %s failed: %w", op, err)
	}
	snapshot := BuildSnapshot(entries, today)

	// The comparison uses the cross-actor total for the global review
	// budget, but the appended record always carries the actor's own
	// running count so the max-count reducer stays per-key.
	current := snapshot.Count(actor, op)
	total := current
	if global {
		total = snapshot.Total(op)
	}
	if total >= limit {
		l.logger.Info("Rate limit deny", "operation", op, "actor", actor, "current", total, "limit", limit)
		return Decision{Allowed: false, Reason: fmt.Sprintf(denyFormat, total, limit)}, nil
	}

	record := Record{Date: today, Actor: actor, Op: op, Count: current + 1}
	if err := l.ledger.Append(ctx, handle, record.String()); err != nil {
		return Decision{}, fmt.Errorf("failed to record %s usage: %w", op, err)
	}
	l.logger.Debug("Rate limit allow", "operation", op, "actor", actor, "usage", total+1, "limit", limit)
	return Decision{Allowed: true, Reason: fmt.Sprintf("usage: %d/%d", total+1, limit)}, nil
}
