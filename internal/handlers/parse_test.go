package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name      string
		content   string
		mentioned bool
		cmd, args string
		ok        bool
	}{
		{"mention", "<@123> play  https://youtu.be/x  ", true, "play", "https://youtu.be/x", true},
		{"nick mention", "<@!123> SKIP", true, "skip", "", true},
		{"mention in the middle", "hey <@123> queue", true, "hey", "queue", true},
		{"bare mention", "<@123>", true, "", "", false},
		{"prefix", "!play never gonna give you up", false, "play", "never gonna give you up", true},
		{"no trigger", "play something", false, "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, args, ok := parseMessage(tc.content, "!", tc.mentioned)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.cmd, cmd)
			assert.Equal(t, tc.args, args)
		})
	}
}
