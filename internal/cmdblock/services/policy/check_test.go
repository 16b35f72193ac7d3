package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haukened/cmdblock/internal/cmdblock/domain"
)

func testMessages() Messages {
	return Messages{
		BypassPermission: "cmdblock.bypass",
		ShowErrorMessage: true,
		ErrorMessage:     "&cYou may not use /<command>.",
		NotifyBypass:     true,
		BypassMessage:    "&c/<command> is blocked. Executing anyways since you have permission.",
	}
}

func TestEngine_Check(t *testing.T) {
	e := NewEngine(Options{Targets: []string{"help", "me"}, Messages: testMessages()})

	tests := []struct {
		name   string
		sender domain.Sender
		line   string
		want   domain.Verdict
	}{
		{
			name:   "not blocked",
			sender: domain.PermissionSet{},
			line:   "/spawn home",
			want:   domain.Verdict{Command: "spawn", Allowed: true},
		},
		{
			name:   "blocked without permission",
			sender: domain.PermissionSet{"other.perm"},
			line:   "/help 2",
			want: domain.Verdict{
				Command: "help",
				Blocked: true,
				Message: "&cYou may not use /help.",
			},
		},
		{
			name:   "blocked via mod prefix",
			sender: nil,
			line:   "/minecraft:me waves",
			want: domain.Verdict{
				Command: "minecraft:me",
				Blocked: true,
				Message: "&cYou may not use /minecraft:me.",
			},
		},
		{
			name:   "bypassed with notice",
			sender: domain.PermissionSet{"cmdblock.bypass"},
			line:   "help",
			want: domain.Verdict{
				Command:  "help",
				Allowed:  true,
				Blocked:  true,
				Bypassed: true,
				Message:  "&c/help is blocked. Executing anyways since you have permission.",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Check(tt.sender, tt.line))
		})
	}
}

func TestEngine_Check_QuietModes(t *testing.T) {
	m := testMessages()
	m.ShowErrorMessage = false
	m.NotifyBypass = false
	e := NewEngine(Options{Targets: []string{"help"}, Messages: m})

	denied := e.Check(domain.PermissionSet{}, "/help")
	assert.False(t, denied.Allowed)
	assert.Empty(t, denied.Message)

	bypassed := e.Check(domain.PermissionSet{"cmdblock.bypass"}, "/help")
	assert.True(t, bypassed.Allowed)
	assert.True(t, bypassed.Bypassed)
	assert.Empty(t, bypassed.Message)
}

func TestEngine_Check_EmptyBypassPermissionNeverBypasses(t *testing.T) {
	m := testMessages()
	m.BypassPermission = ""
	e := NewEngine(Options{Targets: []string{"help"}, Messages: m})

	v := e.Check(domain.PermissionSet{""}, "/help")
	assert.False(t, v.Allowed)
	assert.False(t, v.Bypassed)
}

func TestEngine_SetMessages(t *testing.T) {
	e := NewEngine(Options{Targets: []string{"help"}, Messages: testMessages()})
	m := testMessages()
	m.ErrorMessage = "nope: <command>"
	e.SetMessages(m)

	assert.Equal(t, "nope: help", e.Check(nil, "/help").Message)
}
