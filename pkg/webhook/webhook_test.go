package webhook

import "testing"

func TestWebhookMatches(t *testing.T) {
	tests := []struct {
		name string
		w    Webhook
		evt  string
		want bool
	}{
		{"exact match", Webhook{Events: []string{"identity.created"}}, "identity.created", true},
		{"no match", Webhook{Events: []string{"identity.created"}}, "memory.created", false},
		{"wildcard", Webhook{Events: []string{"*"}}, "anything.goes", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.matches(tt.evt); got != tt.want {
				t.Errorf("matches(%q) = %v, want %v", tt.evt, got, tt.want)
			}
		})
	}
}

func TestDeliveryTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusPending, false},
		{StatusDelivered, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		d := Delivery{Status: tt.status}
		if got := d.terminal(); got != tt.want {
			t.Errorf("terminal() for status %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}
