package etcd

import "testing"

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/ouracs"},
		{"/", "/ouracs"},
		{"ouracs-prod", "/ouracs-prod"},
		{"/a/b/", "/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := normalizePrefix(tt.in); got != tt.want {
				t.Errorf("normalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClient_Key(t *testing.T) {
	c := &Client{prefix: "/ouracs"}
	if got := c.key("locks", "dc-1"); got != "/ouracs/locks/dc-1" {
		t.Errorf("Expected /ouracs/locks/dc-1, got %s", got)
	}
}
