package utils

import "testing"

func TestRemoveModPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"me", "me"},
		{"minecraft:me", "me"},
		{"bukkit:tell", "tell"},
		{"a:b:c", "b:c"},
		{"minecraft:", ""},
		{":help", "help"},
		{"", ""},
		{"Minecraft:ME", "ME"},
	}

	for _, tt := range tests {
		got := RemoveModPrefix(tt.in)
		if got != tt.want {
			t.Errorf("RemoveModPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/help", "help"},
		{"help", "help"},
		{"  /tell steve hi  ", "tell"},
		{"/minecraft:me waves", "minecraft:me"},
		{"/pl\tlist", "pl"},
		{"//worldedit", "/worldedit"},
		{"/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		got := CommandToken(tt.in)
		if got != tt.want {
			t.Errorf("CommandToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
