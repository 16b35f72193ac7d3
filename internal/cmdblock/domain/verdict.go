package domain

import "strings"

// CommandPlaceholder is replaced with the blocked command's name in messages.
const CommandPlaceholder = "<command>"

// Sender is whoever dispatched a command. Permission semantics belong to the host.
type Sender interface {
	HasPermission(permission string) bool
}

// PermissionSet is a Sender backed by an explicit list of granted permissions.
type PermissionSet []string

func (p PermissionSet) HasPermission(permission string) bool {
	for _, granted := range p {
		if granted == permission {
			return true
		}
	}
	return false
}

// Verdict is the outcome of checking one dispatched command.
//
// Allowed  - the command may run
// Blocked  - the command token matched the blocked set
// Bypassed - blocked, but the sender holds the bypass permission
// Message  - text to show the sender, empty when nothing should be shown
type Verdict struct {
	Command  string `json:"command"`
	Allowed  bool   `json:"allowed"`
	Blocked  bool   `json:"blocked"`
	Bypassed bool   `json:"bypassed"`
	Message  string `json:"message,omitempty"`
}

// AllowVerdict is the verdict for a command that is not blocked.
func AllowVerdict(command string) Verdict {
	return Verdict{Command: command, Allowed: true}
}

// RenderMessage substitutes the command name into a message template.
func RenderMessage(template, command string) string {
	return strings.ReplaceAll(template, CommandPlaceholder, command)
}
