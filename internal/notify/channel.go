// internal/notify/channel.go
package notify

import (
	"errors"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/charmbracelet/log"
)

// Channel delivers notification content. Update replaces the ongoing
// notification with the same id and tag; Complete posts a terminal one.
type Channel interface {
	Update(n Notification) error
	Complete(n Notification) error
	Cancel(id int, tag string) error
}

// Event bus topics used by BusChannel.
const (
	TopicUpdate   = "notification:update"
	TopicComplete = "notification:complete"
	TopicCancel   = "notification:cancel"
)

// BusChannel publishes notifications on an event bus. Update and Complete
// handlers receive a Notification; Cancel handlers receive (id int, tag string).
type BusChannel struct {
	bus evbus.Bus
}

func NewBusChannel(bus evbus.Bus) *BusChannel {
	if bus == nil {
		bus = evbus.New()
	}
	return &BusChannel{bus: bus}
}

func (c *BusChannel) Bus() evbus.Bus { return c.bus }

func (c *BusChannel) Update(n Notification) error {
	c.bus.Publish(TopicUpdate, n)
	return nil
}

func (c *BusChannel) Complete(n Notification) error {
	c.bus.Publish(TopicComplete, n)
	return nil
}

func (c *BusChannel) Cancel(id int, tag string) error {
	c.bus.Publish(TopicCancel, id, tag)
	return nil
}

// LogChannel writes notifications to the log.
type LogChannel struct {
	logger *log.Logger
}

func NewLogChannel(logger *log.Logger) *LogChannel {
	return &LogChannel{logger: logger.WithPrefix("notification")}
}

func (c *LogChannel) Update(n Notification) error {
	c.logger.Debug(n.Title, "job_id", n.Tag, "text", n.Text, "progress", progressValue(n))
	return nil
}

func (c *LogChannel) Complete(n Notification) error {
	kv := []interface{}{"job_id", n.Tag, "text", n.Text}
	if n.Action != nil {
		kv = append(kv, "action", n.Action.Label)
	}
	if n.ErrorKind != "" {
		c.logger.Warn(n.Title, append(kv, "kind", n.ErrorKind)...)
		return nil
	}
	c.logger.Info(n.Title, kv...)
	return nil
}

func (c *LogChannel) Cancel(id int, tag string) error {
	c.logger.Debug("dismissed", "id", id, "job_id", tag)
	return nil
}

func progressValue(n Notification) interface{} {
	if n.Progress == nil {
		return "indeterminate"
	}
	return *n.Progress
}

type key struct {
	id  int
	tag string
}

// Op names recorded by MemoryChannel.
const (
	OpUpdate   = "update"
	OpComplete = "complete"
	OpCancel   = "cancel"
)

type Event struct {
	Op           string       `json:"op"`
	Notification Notification `json:"notification"`
}

// MemoryChannel keeps the currently shown notifications and the full event
// history.
type MemoryChannel struct {
	mu      sync.Mutex
	shown   map[key]Notification
	order   []key
	history []Event
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{shown: make(map[key]Notification)}
}

func (c *MemoryChannel) Update(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(n)
	c.history = append(c.history, Event{Op: OpUpdate, Notification: n})
	return nil
}

func (c *MemoryChannel) Complete(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(n)
	c.history = append(c.history, Event{Op: OpComplete, Notification: n})
	return nil
}

func (c *MemoryChannel) Cancel(id int, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{id: id, tag: tag}
	if _, ok := c.shown[k]; !ok {
		return nil
	}
	delete(c.shown, k)
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.history = append(c.history, Event{Op: OpCancel, Notification: Notification{ID: id, Tag: tag}})
	return nil
}

func (c *MemoryChannel) put(n Notification) {
	k := key{id: n.ID, tag: n.Tag}
	if _, ok := c.shown[k]; !ok {
		c.order = append(c.order, k)
	}
	c.shown[k] = n
}

// Active returns the notifications currently shown, oldest first.
func (c *MemoryChannel) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.shown[k])
	}
	return out
}

func (c *MemoryChannel) History() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.history))
	copy(out, c.history)
	return out
}

// Fanout delivers to every channel and joins their errors.
type Fanout []Channel

func (f Fanout) Update(n Notification) error {
	var errs []error
	for _, c := range f {
		errs = append(errs, c.Update(n))
	}
	return errors.Join(errs...)
}

func (f Fanout) Complete(n Notification) error {
	var errs []error
	for _, c := range f {
		errs = append(errs, c.Complete(n))
	}
	return errors.Join(errs...)
}

func (f Fanout) Cancel(id int, tag string) error {
	var errs []error
	for _, c := range f {
		errs = append(errs, c.Cancel(id, tag))
	}
	return errors.Join(errs...)
}
