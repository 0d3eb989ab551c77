package sensor

import (
	"errors"
	"strings"
	"sync"
)

// Sentinel marks a field that has not been received from the device yet.
const Sentinel = "--"

// FieldDelimiter separates temperature and humidity in a device line.
const FieldDelimiter = ","

// ErrMalformedLine is returned by Parse for any line that does not split
// into exactly two fields. Callers drop such lines without reporting them.
var ErrMalformedLine = errors.New("malformed sensor line")

// Reading is the latest temperature/humidity pair as sent by the device.
// Values are kept verbatim; no numeric validation is done.
type Reading struct {
	Temperature string `json:"temp"`
	Humidity    string `json:"hum"`
}

// Empty returns the "no data yet" reading.
func Empty() Reading {
	return Reading{Temperature: Sentinel, Humidity: Sentinel}
}

// Parse trims a raw device line and splits it into a Reading.
func Parse(line string) (Reading, error) {
	parts := strings.Split(strings.TrimSpace(line), FieldDelimiter)
	if len(parts) != 2 {
		return Reading{}, ErrMalformedLine
	}
	return Reading{Temperature: parts[0], Humidity: parts[1]}, nil
}

// Cache is a single-slot store for the most recent Reading.
type Cache struct {
	mu      sync.RWMutex
	reading Reading
}

func NewCache() *Cache {
	return &Cache{reading: Empty()}
}

// Update replaces the stored reading unconditionally.
func (c *Cache) Update(r Reading) {
	c.mu.Lock()
	c.reading = r
	c.mu.Unlock()
}

// Get returns the stored reading, or the sentinel reading if none arrived.
func (c *Cache) Get() Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reading
}
