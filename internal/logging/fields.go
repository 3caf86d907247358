package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"mapline/internal/domain"
)

// Field applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// With applies fields to e in order.
func With(e *bolt.Event, fields ...Field) *bolt.Event {
	for _, f := range fields {
		e = f(e)
	}
	return e
}

func Subprocess(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("subprocess_id", id)
	}
}

func Process(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("process_id", id)
	}
}

func Unit(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("unit_id", id)
	}
}

func Actor(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("actor_id", id)
	}
}

func Action(a domain.Action) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("action", string(a))
	}
}

// Move records both ends of a situação change.
func Move(from, to domain.Situation) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("from", string(from)).Str("to", string(to))
	}
}

func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

func Err(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Err(err)
	}
}

func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

func Int(key string, value int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int(key, value)
	}
}
