package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("LEDGER_DIR", "/srv/ledgers")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "home", in: "~", want: "/home/tester"},
		{name: "tilde prefix", in: "~/tally/tally.db", want: "/home/tester/tally/tally.db"},
		{name: "env var", in: "$LEDGER_DIR/main.db", want: "/srv/ledgers/main.db"},
		{name: "absolute", in: "/var/lib/tally.db", want: "/var/lib/tally.db"},
		{name: "tilde elsewhere", in: "/tmp/~backup", want: "/tmp/~backup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}
