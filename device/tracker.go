package device

import (
	"context"
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/model"
)

// Status is what the API reports for one known device.
type Status struct {
	DeviceID    string              `json:"device_id"`
	Online      bool                `json:"online"`
	LastSeen    time.Time           `json:"last_seen"`
	LastReading model.SensorReading `json:"last_reading"`
}

// Tracker remembers the last reading per device. Entries expire after the
// configured offline window; an expired device is reported offline until it
// publishes again.
type Tracker struct {
	cache *ttlcache.Cache[string, model.SensorReading]
	seen  *ttlcache.Cache[string, time.Time]
}

// NewTracker creates a tracker whose entries go offline after offlineAfter of
// silence. Device ids are remembered for 24h so briefly-offline devices still
// show up in listings.
func NewTracker(offlineAfter time.Duration) *Tracker {
	if offlineAfter <= 0 {
		offlineAfter = 2 * time.Minute
	}

	// reads must not refresh the TTL, only telemetry does
	cache := ttlcache.New[string, model.SensorReading](
		ttlcache.WithTTL[string, model.SensorReading](offlineAfter),
		ttlcache.WithDisableTouchOnHit[string, model.SensorReading](),
	)
	seen := ttlcache.New[string, time.Time](
		ttlcache.WithTTL[string, time.Time](24*time.Hour),
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)

	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, model.SensorReading]) {
		if reason == ttlcache.EvictionReasonExpired {
			logger.Warn("device %s went offline (no telemetry for %s)", item.Key(), offlineAfter)
		}
	})

	go cache.Start()
	go seen.Start()

	return &Tracker{cache: cache, seen: seen}
}

// Observe records a reading for its device.
func (t *Tracker) Observe(r model.SensorReading) {
	t.cache.Set(r.DeviceID, r, ttlcache.DefaultTTL)
	t.seen.Set(r.DeviceID, r.ReceivedAt, ttlcache.DefaultTTL)
}

// Latest returns the most recent reading for a device that is still online.
func (t *Tracker) Latest(deviceID string) (model.SensorReading, bool) {
	item := t.cache.Get(deviceID)
	if item == nil {
		return model.SensorReading{}, false
	}
	return item.Value(), true
}

// Devices lists every known device, online or not, sorted by id.
func (t *Tracker) Devices() []Status {
	statuses := make(map[string]Status)

	for _, item := range t.seen.Items() {
		statuses[item.Key()] = Status{
			DeviceID: item.Key(),
			LastSeen: item.Value(),
		}
	}
	for _, item := range t.cache.Items() {
		s := statuses[item.Key()]
		s.DeviceID = item.Key()
		s.Online = true
		s.LastReading = item.Value()
		s.LastSeen = item.Value().ReceivedAt
		statuses[item.Key()] = s
	}

	out := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// OnlineCount returns the number of devices currently online.
func (t *Tracker) OnlineCount() int {
	return t.cache.Len()
}

// Stop stops the expiry goroutines.
func (t *Tracker) Stop() {
	t.cache.Stop()
	t.seen.Stop()
}
