package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledNotifierIsSafe(t *testing.T) {
	n := NewNotifier("", "")
	assert.Equal(t, "zapcrm_updates", n.queue)
	assert.False(t, n.enabled)

	// Publishing through a disabled or nil notifier is a no-op.
	n.Publish("ws1", "message", 1, "created")
	var nilNotifier *Notifier
	nilNotifier.Publish("ws1", "message", 1, "created")
}
