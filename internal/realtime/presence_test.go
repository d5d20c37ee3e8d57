package realtime

import (
	"testing"

	"go.uber.org/zap"
)

func TestPresenceChannelCarriesStorePrefix(t *testing.T) {
	cases := []struct {
		prefix, code, want string
	}{
		{"bubbly:", "ROOM01", "bubbly:presence:ROOM01"},
		{"staging:", "ROOM01", "staging:presence:ROOM01"},
		{"", "ABC123", "presence:ABC123"},
	}
	for _, tc := range cases {
		p := NewRedisPresence(nil, tc.prefix, zap.NewNop())
		if got := p.channel(tc.code); got != tc.want {
			t.Errorf("channel(%q) with prefix %q = %q, want %q", tc.code, tc.prefix, got, tc.want)
		}
	}
}
