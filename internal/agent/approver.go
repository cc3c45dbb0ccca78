// ABOUTME: Approval gate for dangerous operations, driven by the control client
// ABOUTME: Trust elevation is one-way and lasts for the process lifetime

package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/protocol"
)

// approvalTimeout bounds how long an operation waits for the user's
// decision. Timing out counts as a denial.
const approvalTimeout = 60 * time.Second

type decision struct {
	approved bool
	trust    bool
}

// frameSender is the outbound surface the approver needs to ask the client.
type frameSender interface {
	sendMessage(v any) error
}

// Approver gates dangerous operations behind an approval_request round
// trip. Auto-approve answers yes without asking; a trust response elevates
// the whole session so later prompts are skipped.
type Approver struct {
	mu          sync.Mutex
	autoApprove bool
	trusted     bool
	pending     map[string]chan decision

	timeout time.Duration
	logger  *slog.Logger
}

func NewApprover(autoApprove, trustSession bool, logger *slog.Logger) *Approver {
	return &Approver{
		autoApprove: autoApprove,
		trusted:     trustSession,
		pending:     make(map[string]chan decision),
		timeout:     approvalTimeout,
		logger:      logger,
	}
}

// Trusted reports whether prompts are currently skipped.
func (a *Approver) Trusted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.autoApprove || a.trusted
}

// Request asks the control client to approve an operation and blocks for
// the answer. Returns false on denial, timeout, send failure, or context
// cancellation.
func (a *Approver) Request(ctx context.Context, send frameSender, requestID string, details map[string]any) bool {
	if a.Trusted() {
		return true
	}

	approvalID := "approval_" + requestID
	ch := make(chan decision, 1)

	a.mu.Lock()
	a.pending[approvalID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, approvalID)
		a.mu.Unlock()
	}()

	err := send.sendMessage(protocol.ApprovalRequest{
		Type:       protocol.TypeApprovalRequest,
		ApprovalID: approvalID,
		RequestID:  requestID,
		Details:    details,
	})
	if err != nil {
		a.logger.Warn("approval request not delivered", "approval_id", approvalID, "error", err)
		return false
	}
	a.logger.Info("waiting for approval", "approval_id", approvalID)

	select {
	case d := <-ch:
		if d.trust {
			a.mu.Lock()
			a.trusted = true
			a.mu.Unlock()
			a.logger.Info("approved, trusting session", "approval_id", approvalID)
			return true
		}
		if d.approved {
			a.logger.Info("approved", "approval_id", approvalID)
		} else {
			a.logger.Info("denied", "approval_id", approvalID)
		}
		return d.approved
	case <-time.After(a.timeout):
		a.logger.Warn("approval timed out", "approval_id", approvalID)
		return false
	case <-ctx.Done():
		return false
	}
}

// Resolve delivers the client's answer to the waiting operation. Unknown
// approval ids (already timed out, duplicate response) are dropped.
func (a *Approver) Resolve(approvalID string, approved, trust bool) {
	a.mu.Lock()
	ch := a.pending[approvalID]
	a.mu.Unlock()

	if ch == nil {
		a.logger.Debug("approval response for unknown id", "approval_id", approvalID)
		return
	}
	select {
	case ch <- decision{approved: approved, trust: trust}:
	default:
	}
}

// operationSummary builds the detail block shown in the approval prompt.
// Previews are truncated so a large write does not balloon the frame.
func operationSummary(opType string, msg map[string]any, cwd string) map[string]any {
	summary := map[string]any{
		"operation":      opType,
		"operation_name": protocol.DangerousOperations[opType],
	}

	switch opType {
	case protocol.OpWriteFile:
		content := strField(msg, "content")
		summary["path"] = strField(msg, "path")
		summary["preview"] = truncate(content, 500)
		summary["total_lines"] = countLines(content)
	case protocol.OpEditFile:
		summary["path"] = strField(msg, "path")
		summary["old_string"] = truncate(strField(msg, "old_string"), 200)
		summary["new_string"] = truncate(strField(msg, "new_string"), 200)
	case protocol.OpDeleteFile:
		summary["path"] = strField(msg, "path")
	case protocol.OpBash:
		summary["command"] = strField(msg, "command")
		summary["cwd"] = cwd
	case protocol.OpExecute:
		code := strField(msg, "code")
		summary["language"] = strFieldDefault(msg, "language", "python")
		summary["preview"] = truncate(code, 500)
		summary["total_lines"] = countLines(code)
	}
	return summary
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func countLines(s string) int {
	count := 1
	for _, r := range s {
		if r == '\n' {
			count++
		}
	}
	return count
}
