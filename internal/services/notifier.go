package services

import (
	"log/slog"

	pubnub "github.com/pubnub/go"
)

// Notifier delivers buyer-facing notifications. Delivery is fire-and-forget:
// a failed notification is logged and never rolls back the operation that
// triggered it.
type Notifier interface {
	NotifyUser(userID string, payload map[string]any)
}

// PubNubNotifier publishes to the per-user realtime channel the storefront
// subscribes to.
type PubNubNotifier struct {
	pn *pubnub.PubNub
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{pn: pn}
}

func (n *PubNubNotifier) NotifyUser(userID string, payload map[string]any) {
	go func() {
		_, st, err := n.pn.Publish().
			Channel("user-" + userID).
			Message(payload).
			Execute()
		if err != nil {
			slog.Error("user notification failed", "user_id", userID, "status", st.StatusCode, "error", err)
		}
	}()
}

// NoopNotifier is used when no realtime credentials are configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyUser(string, map[string]any) {}
