package audio

import (
	"time"

	"github.com/patrickmn/go-cache"
)

const devicesKey = "devices"

// DeviceCache memoises a backend's device listing. Enumeration spawns
// processes or initialises audio contexts, so repeated UI queries hit the
// cache instead. Expired entries are dropped lazily; no janitor runs.
type DeviceCache struct {
	backend Backend
	cache   *cache.Cache
}

// NewDeviceCache caches QueryDevices results of backend for ttl.
func NewDeviceCache(backend Backend, ttl time.Duration) *DeviceCache {
	return &DeviceCache{
		backend: backend,
		cache:   cache.New(ttl, 0),
	}
}

// Devices returns the cached listing, querying the backend on a miss.
func (c *DeviceCache) Devices() ([]Device, error) {
	if cached, ok := c.cache.Get(devicesKey); ok {
		return append([]Device(nil), cached.([]Device)...), nil
	}

	devices, err := c.backend.QueryDevices()
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(devicesKey, devices)
	return append([]Device(nil), devices...), nil
}

// Validate checks device against the backend, remembering accepted names.
func (c *DeviceCache) Validate(device string) error {
	key := "valid:" + device
	if _, ok := c.cache.Get(key); ok {
		return nil
	}
	if err := c.backend.ValidateDevice(device); err != nil {
		return err
	}
	c.cache.SetDefault(key, true)
	return nil
}

// Invalidate forgets every cached result, e.g. after a hotplug event.
func (c *DeviceCache) Invalidate() {
	c.cache.Flush()
}
