package automation

import (
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/repo-butler/pkg/types"
)

// Prompt size limits, in characters of input or tokens of output.
const (
	reviewDiffLimit    = 100000
	mentionDiffLimit   = 50000
	prBodyPlanLimit    = 5000
	reviewMaxTokens    = 16384
	evalMaxTokens      = 4096
	implementMaxTokens = 16384
	mentionMaxTokens   = 8192
)

// changedFilesListed caps the per-file listing in review prompts.
const changedFilesListed = 50

// truncated is appended whenever prompt input is cut.
const truncated = "\n\n... [truncated]"

// truncateText cuts text to max characters, marking the cut.
func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + truncated
}

func reviewSystemPrompt(guidelines string) string {
	return fmt.Sprintf(`You are repo-butler, an automated code reviewer. Your role is to perform thorough, constructive code reviews.

Repository Guidelines:
%s

Focus on:
1. **Code Quality**: Adherence to project conventions and best practices
2. **Potential Bugs**: Logic errors, edge cases, error handling
3. **Security**: Vulnerabilities, injection risks, data validation
4. **Performance**: Inefficiencies, resource usage
5. **Maintainability**: Code clarity, documentation, test coverage

Be constructive and specific. Provide code suggestions when appropriate. If the code looks good, acknowledge it briefly.`, guidelines)
}

func reviewUserMessage(pr *types.PullRequest, diff string) string {
	names := make([]string, 0, len(pr.ChangedFiles))
	for _, f := range pr.ChangedFiles {
		names = append(names, "  - "+f.Filename)
	}
	listed := names
	if len(listed) > changedFilesListed {
		listed = listed[:changedFilesListed]
	}
	filesList := strings.Join(listed, "\n")
	if len(names) > changedFilesListed {
		filesList += fmt.Sprintf("\n  ... and %d more files", len(names)-changedFilesListed)
	}

	return fmt.Sprintf(`Pull Request: #%d
Title: %s
Description:
%s

Changed files (%d):
%s

Full diff:
`+"```diff\n%s\n```"+`

Please review these changes and provide constructive feedback. Structure your review with:
1. **Summary**: Brief overview of the changes
2. **Strengths**: What's done well
3. **Concerns**: Issues that should be addressed (if any)
4. **Suggestions**: Improvements and recommendations (if any)
5. **Verdict**: Approve, request changes, or comment

Keep the review focused and actionable.`, pr.Number, pr.Title, pr.Body, len(pr.ChangedFiles), filesList, truncateText(diff, reviewDiffLimit))
}

func evalSystemPrompt(rc repoContext) string {
	return fmt.Sprintf(`You are repo-butler, an automated assistant evaluating GitHub issues to determine if they should be implemented.

Repository Guidelines:
%s

Repository Overview:
%s

Your task is to evaluate whether this issue is:
1. Clear and actionable
2. A reasonable bug fix or feature request
3. Something you can implement without significant ambiguity

Respond with a JSON object containing:
- "implementable": boolean - whether you can implement this
- "reasoning": string - brief explanation of your decision
- "questions": array of strings - questions to ask if not implementable
- "implementation_plan": string - brief plan if implementable (empty if not)

Be conservative - only mark as implementable if you're confident you understand the requirement and can implement it correctly.`, rc.Guidelines, rc.Readme)
}

func evalUserMessage(issue *types.Issue) string {
	return fmt.Sprintf(`Issue #%d
Submitted by: @%s
Title: %s

Description:
%s

Evaluate this issue and respond with your assessment in JSON format.`, issue.Number, issue.Author, issue.Title, issue.Body)
}

func implementSystemPrompt(guidelines string) string {
	return fmt.Sprintf(`You are repo-butler, an automated software engineer implementing GitHub issues.

Repository Guidelines:
%s

You need to implement the requested changes. Provide specific file modifications as a series of instructions.

For each file change, specify:
1. The file path
2. Whether it's a new file or modification
3. The complete content (for new files) or specific changes (for modifications)

Be thorough but conservative. Only make necessary changes. Include tests if appropriate.`, guidelines)
}

func implementUserMessage(issue *types.Issue) string {
	return fmt.Sprintf(`Issue #%d: %s

%s

Please implement this change following the repository's conventions. Provide the file changes needed.`, issue.Number, issue.Title, issue.Body)
}

func prMentionSystemPrompt(guidelines string) string {
	return fmt.Sprintf(`You are repo-butler, an automated assistant helping with code review and pull request discussions.

Repository Guidelines:
%s

You are discussing a pull request. Provide helpful, constructive feedback.`, guidelines)
}

func prMentionUserMessage(pr *types.PullRequest, diff, user, comment string) string {
	return fmt.Sprintf(`Pull Request: #%d
Title: %s
Description: %s

Changes (diff):
`+"```diff\n%s\n```"+`

User @%s mentioned you with this comment:
%s

Please provide a helpful response. If they're asking for a code review, analyze the changes and provide constructive feedback. If they're asking questions, answer them based on the code changes and context.`, pr.Number, pr.Title, pr.Body, truncateText(diff, mentionDiffLimit), user, comment)
}

func issueMentionSystemPrompt(rc repoContext) string {
	return fmt.Sprintf(`You are repo-butler, an automated assistant helping with GitHub issues and project discussions.

Repository Guidelines:
%s

Repository Overview:
%s

You are helping with an issue discussion. Provide helpful, actionable advice.`, rc.Guidelines, rc.Readme)
}

func issueMentionUserMessage(issue *types.Issue, recent []types.IssueComment, user, comment string) string {
	var discussion strings.Builder
	for _, c := range recent {
		fmt.Fprintf(&discussion, "@%s wrote:\n%s\n\n", c.Author, c.Body)
	}

	return fmt.Sprintf(`Issue: #%d
Title: %s
Description: %s

Recent discussion:
%s
User @%s mentioned you with this comment:
%s

Please provide a helpful response. Answer their questions, provide guidance, or suggest solutions based on the issue context.`, issue.Number, issue.Title, issue.Body, discussion.String(), user, comment)
}
