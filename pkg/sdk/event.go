package sdk

import "strings"

// Topic is a dot-delimited event classification, e.g. "output.led.state_changed".
type Topic string

// Topic prefixes.
const (
	PrefixInput  Topic = "input"
	PrefixOutput Topic = "output"
	PrefixSystem Topic = "system"
)

// Well-known topics published by the hardware backends and the app runner.
const (
	TopicButtonPressed  Topic = "input.button.pressed"
	TopicButtonReleased Topic = "input.button.released"
	TopicSwitchChanged  Topic = "input.switch.changed"
	TopicLEDChanged     Topic = "output.led.state_changed"
	TopicDisplayUpdated Topic = "output.display.updated"
	TopicScreenUpdated  Topic = "output.screen.updated"
	TopicAppStarted     Topic = "system.app.started"
	TopicAppStopped     Topic = "system.app.stopped"
)

// Wildcard is the trailing pattern segment matching any remaining segments.
const Wildcard = "*"

func (t Topic) String() string { return string(t) }

// Valid reports whether t is non-empty and has no empty segments.
func (t Topic) Valid() bool {
	if t == "" {
		return false
	}
	for _, seg := range strings.Split(string(t), ".") {
		if seg == "" {
			return false
		}
	}
	return true
}

// Matches reports whether t is matched by pattern. A pattern is an exact topic
// or a prefix whose last segment is "*", which matches one or more segments.
// The bare pattern "*" matches every topic.
func (t Topic) Matches(pattern Topic) bool {
	p := string(pattern)
	if p == Wildcard {
		return true
	}
	if prefix, ok := strings.CutSuffix(p, "."+Wildcard); ok {
		return strings.HasPrefix(string(t), prefix+".")
	}
	return t == pattern
}

// ValidPattern reports whether pattern is usable for subscriptions.
func ValidPattern(pattern Topic) bool {
	if pattern == Wildcard {
		return true
	}
	if prefix, ok := strings.CutSuffix(string(pattern), "."+Wildcard); ok {
		pattern = Topic(prefix)
	}
	return pattern.Valid() && !strings.Contains(string(pattern), Wildcard)
}

// Payload is the topic-specific body of an Event.
type Payload map[string]any

// Event is an immutable record of one publish.
type Event struct {
	Topic    Topic   `json:"topic"`
	Payload  Payload `json:"payload"`
	Sequence uint64  `json:"sequence"`
	Source   string  `json:"source"`
}

// Publisher is the write side of the event bus.
type Publisher interface {
	Publish(topic Topic, source string, payload Payload) (Event, error)
}

// Handler receives delivered events.
type Handler func(ev Event)

// Subscription is a handle returned by Subscribe.
type Subscription interface {
	Pattern() Topic
	Unsubscribe()
}

// Bus is the public interface of the event bus.
type Bus interface {
	Publisher
	Subscribe(pattern Topic, h Handler) (Subscription, error)
}
