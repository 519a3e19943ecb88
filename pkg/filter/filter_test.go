package filter

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		maxDuration time.Duration
		want        CaptureRequest
		wantErr     bool
	}{
		{name: "empty", query: "", want: CaptureRequest{}},
		{name: "filter only", query: "filter=wlan.fc.type_subtype+%3D%3D+0x08", want: CaptureRequest{Filter: "wlan.fc.type_subtype == 0x08"}},
		{name: "duration", query: "duration=30", want: CaptureRequest{Duration: 30 * time.Second}},
		{name: "filter and duration", query: "filter=eapol&duration=5", want: CaptureRequest{Filter: "eapol", Duration: 5 * time.Second}},
		{name: "blank filter", query: "filter=+++", want: CaptureRequest{}},
		{name: "capped duration", query: "duration=600", maxDuration: time.Minute, want: CaptureRequest{Duration: time.Minute}},
		{name: "zero duration", query: "duration=0", wantErr: true},
		{name: "negative duration", query: "duration=-5", wantErr: true},
		{name: "fractional duration", query: "duration=1.5", wantErr: true},
		{name: "non numeric duration", query: "duration=soon", wantErr: true},
		{name: "overflowing duration", query: "duration=99999999999999999999", wantErr: true},
		{name: "duration beyond time range", query: "duration=9223372036854775807", wantErr: true},
		{name: "control character in filter", query: "filter=eapol%0Arm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := ParseRequest(q, DefaultMaxFilterLength, tt.maxDuration)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		maxLen  int
		wantErr bool
	}{
		{name: "empty", expr: ""},
		{name: "typical", expr: `wlan.addr == aa:bb:cc:dd:ee:ff && !(wlan.fc.type == 1)`},
		{name: "shell metacharacters are just text", expr: `frame contains "$(reboot)"; ls | cat`},
		{name: "tab allowed", expr: "eapol\tor\tdhcp"},
		{name: "unicode allowed", expr: `wlan.ssid == "café"`},
		{name: "nul", expr: "eapol\x00", wantErr: true},
		{name: "newline", expr: "eapol\nor dhcp", wantErr: true},
		{name: "escape", expr: "\x1b[2J", wantErr: true},
		{name: "delete", expr: "a\x7f", wantErr: true},
		{name: "at limit", expr: strings.Repeat("a", 16), maxLen: 16},
		{name: "over limit", expr: strings.Repeat("a", 17), maxLen: 16, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxLen := tt.maxLen
			if maxLen == 0 {
				maxLen = DefaultMaxFilterLength
			}
			err := ValidateFilter(tt.expr, maxLen)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Argv(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, []string{"-r", "-", "-F", "pcap", "-w", "-"}, cfg.argv(""))
	assert.Equal(t, []string{"-r", "-", "-F", "pcap", "-w", "-", "-Y", "eapol or dhcp"}, cfg.argv("eapol or dhcp"))

	cfg.Flag = ""
	assert.Equal(t, []string{"-r", "-", "-F", "pcap", "-w", "-", "eapol"}, cfg.argv("eapol"))

	// argv must not alias the configured args.
	args := cfg.argv("x")
	args[0] = "changed"
	assert.Equal(t, "-r", cfg.Args[0])
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, StateInit.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(8)

	_, _ = tb.Write([]byte("abc"))
	assert.Equal(t, "abc", tb.String())

	_, _ = tb.Write([]byte("defgh"))
	assert.Equal(t, "abcdefgh", tb.String())

	_, _ = tb.Write([]byte("ij"))
	assert.Equal(t, "cdefghij", tb.String())

	n, _ := tb.Write([]byte("0123456789"))
	assert.Equal(t, 10, n)
	assert.Equal(t, "23456789", tb.String())
}
