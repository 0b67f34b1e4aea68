package realtime

import "testing"

func TestEndpointURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    string
		ch      Channel
		want    string
		wantErr bool
	}{
		{
			name: "http upgrades to ws",
			base: "http://example.com:8000",
			ch:   ChannelChat,
			want: "ws://example.com:8000/ws/chat/",
		},
		{
			name: "https upgrades to wss",
			base: "https://example.com",
			ch:   ChannelNotifications,
			want: "wss://example.com/ws/notifications/",
		},
		{
			name: "explicit ws base kept",
			base: "ws://localhost:9000",
			ch:   ChannelChat,
			want: "ws://localhost:9000/ws/chat/",
		},
		{
			name: "trailing slash collapsed",
			base: "https://example.com/",
			ch:   ChannelChat,
			want: "wss://example.com/ws/chat/",
		},
		{
			name: "base path preserved",
			base: "https://example.com/app",
			ch:   ChannelChat,
			want: "wss://example.com/app/ws/chat/",
		},
		{
			name:    "unknown channel",
			base:    "https://example.com",
			ch:      Channel("video"),
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			base:    "ftp://example.com",
			ch:      ChannelChat,
			wantErr: true,
		},
		{
			name:    "missing host",
			base:    "https://",
			ch:      ChannelChat,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		got, err := EndpointURL(tc.base, tc.ch)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %q", tc.name, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
