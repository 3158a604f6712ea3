package session

import (
	"sync"

	"github.com/shepherd-project/shepherd/internal/events"
)

// NotificationCache tracks the last-seen counter per notification category
// so increases can be detected. It is cleared on every disconnect; counts
// are re-derived, not diffed, across a reconnect.
type NotificationCache struct {
	mu       sync.Mutex
	lastSeen map[events.NotificationCategory]uint32
}

// NewNotificationCache creates an empty cache.
func NewNotificationCache() *NotificationCache {
	return &NotificationCache{
		lastSeen: make(map[events.NotificationCategory]uint32),
	}
}

// Observe records a fresh set of counters and returns the categories that
// are new-worthy: newly nonzero, or increased since last seen.
func (c *NotificationCache) Observe(counts map[events.NotificationCategory]uint32) []events.NotificationCategory {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fresh []events.NotificationCategory
	for category, count := range counts {
		if count > c.lastSeen[category] {
			fresh = append(fresh, category)
		}
		c.lastSeen[category] = count
	}
	return fresh
}

// Clear drops all remembered counts.
func (c *NotificationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = make(map[events.NotificationCategory]uint32)
}

// handleNotifications flags categories whose counters increased.
func (s *Session) handleNotifications(ev *events.Event) {
	payload, ok := ev.Payload.(events.NotificationsPayload)
	if !ok {
		return
	}

	for _, category := range s.notifications.Observe(payload.Counts) {
		s.logger.Info().
			Str("category", category.String()).
			Uint32("count", payload.Counts[category]).
			Msg("new notifications")

		// New gifts may carry redeemable content; give the worker a poke.
		if category == events.NotificationGifts {
			s.TriggerRedemption()
		}
	}
}
