package policy

import (
	"github.com/haukened/cmdblock/internal/cmdblock/common/utils"
	"github.com/haukened/cmdblock/internal/cmdblock/domain"
)

// Messages controls what a sender is told when a command is blocked or bypassed.
type Messages struct {
	BypassPermission string
	ShowErrorMessage bool
	ErrorMessage     string
	NotifyBypass     bool
	BypassMessage    string
}

// Check evaluates a dispatched command line for sender. Only the command
// token is inspected; arguments are ignored.
func (e *Engine) Check(sender domain.Sender, commandLine string) domain.Verdict {
	command := utils.CommandToken(commandLine)
	if !e.IsBlocked(command) {
		return domain.AllowVerdict(command)
	}

	m := e.messages.Load()
	v := domain.Verdict{Command: command, Blocked: true}

	if sender != nil && m.BypassPermission != "" && sender.HasPermission(m.BypassPermission) {
		v.Allowed = true
		v.Bypassed = true
		if m.NotifyBypass {
			v.Message = domain.RenderMessage(m.BypassMessage, command)
		}
		e.logger.Debug(map[string]any{"command": command}, "Blocked command bypassed")
		return v
	}

	if m.ShowErrorMessage {
		v.Message = domain.RenderMessage(m.ErrorMessage, command)
	}
	e.logger.Debug(map[string]any{"command": command}, "Blocked command denied")
	return v
}
