package msgbus

// Subscription is a committed channel subscription.
type Subscription struct {
	Channel string
	Filter  interface{}
	Handler Handler
}

// SubscriptionRegistry holds committed subscriptions keyed by channel, in
// commit order. It is the source of truth for replay after reconnect.
type SubscriptionRegistry struct {
	order         []string
	subscriptions map[string]Subscription
}

// NewSubscriptionRegistry returns an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{subscriptions: make(map[string]Subscription)}
}

// Has reports whether channel has a committed subscription.
func (registry *SubscriptionRegistry) Has(channel string) bool {
	_, exists := registry.subscriptions[channel]
	return exists
}

// Get returns the subscription for channel.
func (registry *SubscriptionRegistry) Get(channel string) (Subscription, bool) {
	subscription, exists := registry.subscriptions[channel]
	return subscription, exists
}

// Commit stores subscription, replacing any previous entry for its channel
// while keeping that entry's position.
func (registry *SubscriptionRegistry) Commit(subscription Subscription) {
	if _, exists := registry.subscriptions[subscription.Channel]; !exists {
		registry.order = append(registry.order, subscription.Channel)
	}
	registry.subscriptions[subscription.Channel] = subscription
}

// Remove deletes the subscription for channel.
func (registry *SubscriptionRegistry) Remove(channel string) {
	if _, exists := registry.subscriptions[channel]; !exists {
		return
	}
	delete(registry.subscriptions, channel)
	for index, candidate := range registry.order {
		if candidate == channel {
			registry.order = append(registry.order[:index], registry.order[index+1:]...)
			break
		}
	}
}

// All returns the committed subscriptions in commit order.
func (registry *SubscriptionRegistry) All() []Subscription {
	all := make([]Subscription, 0, len(registry.order))
	for _, channel := range registry.order {
		all = append(all, registry.subscriptions[channel])
	}
	return all
}

// Channels returns the committed channel names in commit order.
func (registry *SubscriptionRegistry) Channels() []string {
	return append([]string(nil), registry.order...)
}

// Len returns the number of committed subscriptions.
func (registry *SubscriptionRegistry) Len() int { return len(registry.order) }
