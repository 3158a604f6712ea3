package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shepherd-project/shepherd/internal/events"
)

func TestNotificationCacheFlagsIncreases(t *testing.T) {
	c := NewNotificationCache()

	// Newly nonzero is new-worthy
	fresh := c.Observe(map[events.NotificationCategory]uint32{
		events.NotificationGifts: 1,
	})
	assert.Equal(t, []events.NotificationCategory{events.NotificationGifts}, fresh)

	// Same count is not
	fresh = c.Observe(map[events.NotificationCategory]uint32{
		events.NotificationGifts: 1,
	})
	assert.Empty(t, fresh)

	// An increase is
	fresh = c.Observe(map[events.NotificationCategory]uint32{
		events.NotificationGifts: 3,
	})
	assert.Equal(t, []events.NotificationCategory{events.NotificationGifts}, fresh)

	// A decrease is not
	fresh = c.Observe(map[events.NotificationCategory]uint32{
		events.NotificationGifts: 2,
	})
	assert.Empty(t, fresh)
}

func TestNotificationCacheRepeatedZero(t *testing.T) {
	c := NewNotificationCache()

	for i := 0; i < 3; i++ {
		fresh := c.Observe(map[events.NotificationCategory]uint32{
			events.NotificationChat: 0,
		})
		assert.Empty(t, fresh)
	}
}

func TestNotificationCacheClearResetsBaseline(t *testing.T) {
	c := NewNotificationCache()

	c.Observe(map[events.NotificationCategory]uint32{events.NotificationItems: 5})
	c.Clear()

	// After a clear, the same count is newly nonzero again
	fresh := c.Observe(map[events.NotificationCategory]uint32{events.NotificationItems: 5})
	assert.Equal(t, []events.NotificationCategory{events.NotificationItems}, fresh)
}
