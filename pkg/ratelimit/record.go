// Package ratelimit enforces daily usage limits for automation tasks.
// Usage is persisted as structured comments on a singleton tracking
// issue in each repository, so state survives across stateless CI runs
// and bot restarts without any external storage.
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Operation identifies a metered automation task kind.
type Operation string

// Metered operations. Issue evaluations and mention responses are
// limited per actor per day; code reviews are limited globally per day.
const (
	OpIssueEval Operation = "issue_eval"
	OpMention   Operation = "mention"
	OpReview    Operation = "review"
)

// recordPrefix marks usage records among the tracking issue comments.
// Anything not carrying it is treated as free text and skipped.
const recordPrefix = "USAGE:"

// dateLayout is the day bucket format. Days roll over at UTC midnight.
const dateLayout = "2006-01-02"

// Record is one immutable usage entry on the tracking issue.
type Record struct {
	Date  string // UTC day, formatted as dateLayout
	Actor string
	Op    Operation
	Count int // running count for (Date, Actor, Op) as of this record
}

// String renders the wire line stored as a tracking issue comment.
func (r Record) String() string {
	return fmt.Sprintf("%s %s|%s|%s|%d", recordPrefix, r.Date, r.Actor, r.Op, r.Count)
}

// ParseRecord decodes a tracking issue comment into a Record. The
// second return is false for anything that is not a well-formed usage
// line: free-text comments, wrong field counts, non-numeric or
// negative counts.
func ParseRecord(body string) (Record, bool) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, recordPrefix) {
		return Record{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, recordPrefix))
	fields := strings.Split(payload, "|")
	if len(fields) != 4 {
		return Record{}, false
	}
	count, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil || count < 0 {
		return Record{}, false
	}
	rec := Record{
		Date:  strings.TrimSpace(fields[0]),
		Actor: strings.TrimSpace(fields[1]),
		Op:    Operation(strings.TrimSpace(fields[2])),
		Count: count,
	}
	if rec.Date == "" || rec.Actor == "" || rec.Op == "" {
		return Record{}, false
	}
	return rec, true
}

// DayKey returns the UTC day bucket for t.
func DayKey(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// Snapshot is the derived per-actor usage view for a single day,
// keyed by actor then operation.
type Snapshot map[string]map[Operation]int

// BuildSnapshot folds raw tracking issue comments into the usage
// counts for one day. Records from other days and malformed entries
// are skipped. When the same (actor, operation) key appears more than
// once, the maximum count wins: concurrent writers can land their
// comments in any order, and the maximum never undercounts relative
// to a record that was already committed.
func BuildSnapshot(entries []string, day string) Snapshot {
	snap := make(Snapshot)
	for _, entry := range entries {
		rec, ok := ParseRecord(entry)
		if !ok || rec.Date != day {
			continue
		}
		ops := snap[rec.Actor]
		if ops == nil {
			ops = make(map[Operation]int)
			snap[rec.Actor] = ops
		}
		if rec.Count > ops[rec.Op] {
			ops[rec.Op] = rec.Count
		}
	}
	return snap
}

// Count returns the recorded usage for one actor and operation.
// Unknown actors and operations count as zero.
func (s Snapshot) Count(actor string, op Operation) int {
	return s[actor][op]
}

// Total returns the usage for an operation summed across all actors.
// The global review limit is checked against this.
func (s Snapshot) Total(op Operation) int {
	total := 0
	for _, ops := range s {
		total += ops[op]
	}
	return total
}
