package sensor

import (
	"errors"
	"sync"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"
)

// Sink receives every accepted Reading after the cache has been updated.
type Sink interface {
	Name() string
	Publish(r Reading) error
}

// DropObserver is told about every line the parser discarded.
type DropObserver interface {
	LineDropped(line string)
}

// Pipeline turns device lines into cache updates and fans accepted readings
// out to the registered sinks.
type Pipeline struct {
	cache *Cache

	mu    sync.RWMutex
	sinks []Sink
	drops DropObserver
}

func NewPipeline(cache *Cache) *Pipeline {
	return &Pipeline{cache: cache}
}

// AddSink registers a sink. Sinks are called in registration order.
func (p *Pipeline) AddSink(s Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// OnDrop registers the observer for discarded lines.
func (p *Pipeline) OnDrop(o DropObserver) {
	p.mu.Lock()
	p.drops = o
	p.mu.Unlock()
}

// HandleLine parses one device line. It reports whether the cache was
// updated. Malformed lines leave the cache untouched and are not logged.
func (p *Pipeline) HandleLine(line string) bool {
	r, err := Parse(line)
	if errors.Is(err, ErrMalformedLine) {
		p.mu.RLock()
		drops := p.drops
		p.mu.RUnlock()
		if drops != nil {
			drops.LineDropped(line)
		}
		return false
	}

	p.cache.Update(r)
	logger.Debug("Received: Temp %sC, Hum %s%%", r.Temperature, r.Humidity)

	p.mu.RLock()
	sinks := p.sinks
	p.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Publish(r); err != nil {
			logger.Warn("Sink '%s' failed to publish reading: %v", s.Name(), err)
		}
	}
	return true
}
