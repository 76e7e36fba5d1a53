package msgbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionRegistryOrderAndReplace(t *testing.T) {
	registry := NewSubscriptionRegistry()
	registry.Commit(Subscription{Channel: "a"})
	registry.Commit(Subscription{Channel: "b"})
	registry.Commit(Subscription{Channel: "c"})
	registry.Commit(Subscription{Channel: "a", Filter: "replaced"})

	assert.Equal(t, []string{"a", "b", "c"}, registry.Channels())
	subscription, exists := registry.Get("a")
	assert.True(t, exists)
	assert.Equal(t, "replaced", subscription.Filter)

	registry.Remove("b")
	registry.Remove("missing")
	assert.Equal(t, []string{"a", "c"}, registry.Channels())
	assert.False(t, registry.Has("b"))
	assert.Equal(t, 2, registry.Len())

	all := registry.All()
	assert.Len(t, all, 2)
	assert.Equal(t, "c", all[1].Channel)
}

func TestSubscriptionRegistryChannelsIsCopy(t *testing.T) {
	registry := NewSubscriptionRegistry()
	registry.Commit(Subscription{Channel: "a"})

	channels := registry.Channels()
	channels[0] = "mutated"
	assert.True(t, registry.Has("a"))
	assert.Equal(t, []string{"a"}, registry.Channels())
}
