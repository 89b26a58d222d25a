package log

import (
	"errors"
	"io"
	"iter"
	"os"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	// ConnectionID matches events of one connection or subscriber.
	ConnectionID string

	// Layer matches events captured at one layer.
	Layer *Layer

	// Category matches events of one category.
	Category *Category

	// Key matches events that name the key in any of their key lists.
	Key string

	// TimeStart matches events at or after this time.
	TimeStart *time.Time

	// TimeEnd matches events before this time.
	TimeEnd *time.Time
}

// Match reports whether event satisfies every criterion of f.
func (f *Filter) Match(event Event) bool {
	if f.ConnectionID != "" && event.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	if f.Key != "" && !slices.Contains(EventKeys(event), f.Key) {
		return false
	}
	return true
}

// EventKeys returns every key an event names.
func EventKeys(event Event) []string {
	var keys []string
	switch {
	case event.Message != nil:
		keys = append(keys, event.Message.Keys...)
	case event.StateChange != nil:
		keys = append(keys, event.StateChange.Keys...)
	case event.Subscription != nil:
		keys = append(keys, event.Subscription.Keys...)
		keys = append(keys, event.Subscription.FirstSubscribed...)
		keys = append(keys, event.Subscription.LastUnsubscribed...)
	case event.Commit != nil:
		keys = append(keys, event.Commit.Changed...)
		keys = append(keys, event.Commit.Undetermined...)
		keys = append(keys, event.Commit.InvalidKeys...)
	}
	return keys
}

// Reader streams events from an event file written by FileLogger.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens an event file for reading.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens an event file and yields only matching events.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: newDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			return Event{}, err
		}
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Events iterates over the remaining matching events. Iteration stops after
// the first decoding error, which is yielded with a zero Event.
func (r *Reader) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			event, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
