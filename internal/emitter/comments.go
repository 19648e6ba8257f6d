package emitter

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
)

const (
	// summaryMarker identifies the editable gate-table comment.
	summaryMarker = "<!-- gated:summary -->"

	// decisionsMarker identifies the append-only decision-log comment.
	decisionsMarker = "<!-- gated:decisions -->"

	// maxCommentLen keeps comment bodies clearly under GitHub's 65536
	// character ceiling, leaving room for the truncation notice.
	maxCommentLen = 60000

	truncationNotice = "_(earlier entries truncated)_"
)

// findMarkerComment pages through the unit's comments looking for the one
// carrying the marker. Returns nil when no such comment exists yet.
func (e *Emitter) findMarkerComment(ctx context.Context, owner, repo string, number int, marker string) (*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		var comments []*github.IssueComment
		resp, err := retryOperation(ctx, e.retry, e.logger, func() (*github.Response, error) {
			var opErr error
			var opResp *github.Response
			comments, opResp, opErr = e.issues.ListComments(ctx, owner, repo, number, opts)
			return opResp, opErr
		})
		if err != nil {
			return nil, fmt.Errorf("listing comments: %w", err)
		}
		for _, c := range comments {
			if strings.Contains(c.GetBody(), marker) {
				return c, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

// upsertComment replaces the marker comment's body, creating the comment on
// first use.
func (e *Emitter) upsertComment(ctx context.Context, owner, repo string, number int, marker, body string) error {
	existing, err := e.findMarkerComment(ctx, owner, repo, number, marker)
	if err != nil {
		return err
	}

	full := marker + "\n" + body
	comment := &github.IssueComment{Body: &full}

	if existing != nil {
		_, err = retryOperation(ctx, e.retry, e.logger, func() (*github.Response, error) {
			_, resp, opErr := e.issues.EditComment(ctx, owner, repo, existing.GetID(), comment)
			return resp, opErr
		})
		if err != nil {
			return fmt.Errorf("editing comment: %w", err)
		}
		return nil
	}

	_, err = retryOperation(ctx, e.retry, e.logger, func() (*github.Response, error) {
		_, resp, opErr := e.issues.CreateComment(ctx, owner, repo, number, comment)
		return resp, opErr
	})
	if err != nil {
		return fmt.Errorf("creating comment: %w", err)
	}
	return nil
}

// appendComment adds an entry block to the marker comment, truncating from
// the head when the body would exceed the comment ceiling. Old entries fall
// off; the newest run's decisions always survive intact.
func (e *Emitter) appendComment(ctx context.Context, owner, repo string, number int, marker, entry string) error {
	existing, err := e.findMarkerComment(ctx, owner, repo, number, marker)
	if err != nil {
		return err
	}

	var body string
	if existing != nil {
		body = existing.GetBody() + "\n\n" + entry
	} else {
		body = marker + "\n" + entry
	}
	body = truncateHead(body, marker, maxCommentLen)

	comment := &github.IssueComment{Body: &body}
	if existing != nil {
		_, err = retryOperation(ctx, e.retry, e.logger, func() (*github.Response, error) {
			_, resp, opErr := e.issues.EditComment(ctx, owner, repo, existing.GetID(), comment)
			return resp, opErr
		})
		if err != nil {
			return fmt.Errorf("editing comment: %w", err)
		}
		return nil
	}

	_, err = retryOperation(ctx, e.retry, e.logger, func() (*github.Response, error) {
		_, resp, opErr := e.issues.CreateComment(ctx, owner, repo, number, comment)
		return resp, opErr
	})
	if err != nil {
		return fmt.Errorf("creating comment: %w", err)
	}
	return nil
}

// truncateHead drops the oldest content until the body fits, keeping the
// marker line so later runs still find the comment. The cut lands on a line
// boundary.
func truncateHead(body, marker string, max int) string {
	if len(body) <= max {
		return body
	}

	header := marker + "\n" + truncationNotice + "\n"
	budget := max - len(header)
	if budget <= 0 {
		return header
	}

	tail := body[len(body)-budget:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return header + tail
}
