// Package analytics decouples telemetry recording from telemetry transport.
// Events accumulate in an in-memory buffer and flush in batches to a
// downstream sink; recording is fire-and-forget from the caller's point of
// view.
package analytics

import (
	"errors"
	"time"
)

// ErrMissingSession is returned when an event carries no session identifier.
// Session ids are required for downstream aggregation.
var ErrMissingSession = errors.New("analytics event requires a session id")

// EventType tags the analytics event variants.
type EventType string

const (
	EventSearch       EventType = "search"
	EventAutocomplete EventType = "autocomplete"
	EventClick        EventType = "click"
	EventView         EventType = "view"
)

// Event is one telemetry record. Variant-specific fields are populated by
// the constructor for the matching type and omitted from the wire encoding
// otherwise.
type Event struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Search and autocomplete.
	ResultsCount   int               `json:"resultsCount,omitempty"`
	ResponseTimeMs int64             `json:"responseTimeMs,omitempty"`
	Filters        map[string]string `json:"filters,omitempty"`
	Sort           string            `json:"sort,omitempty"`
	Page           int               `json:"page,omitempty"`

	// Click and view.
	ResultID       string `json:"resultId,omitempty"`
	ResultType     string `json:"resultType,omitempty"`
	ResultPosition int    `json:"resultPosition,omitempty"`
}

// NewSearchEvent creates a search telemetry event.
func NewSearchEvent(sessionID, query string, resultsCount int, took time.Duration) Event {
	return Event{
		Type:           EventSearch,
		Query:          query,
		SessionID:      sessionID,
		Timestamp:      time.Now(),
		ResultsCount:   resultsCount,
		ResponseTimeMs: took.Milliseconds(),
	}
}

// NewAutocompleteEvent creates an autocomplete telemetry event.
func NewAutocompleteEvent(sessionID, prefix string, resultsCount int, took time.Duration) Event {
	return Event{
		Type:           EventAutocomplete,
		Query:          prefix,
		SessionID:      sessionID,
		Timestamp:      time.Now(),
		ResultsCount:   resultsCount,
		ResponseTimeMs: took.Milliseconds(),
	}
}

// NewClickEvent creates a click telemetry event for a result at a position.
func NewClickEvent(sessionID, query, resultID, resultType string, position int) Event {
	return Event{
		Type:           EventClick,
		Query:          query,
		SessionID:      sessionID,
		Timestamp:      time.Now(),
		ResultID:       resultID,
		ResultType:     resultType,
		ResultPosition: position,
	}
}

// NewViewEvent creates a view telemetry event.
func NewViewEvent(sessionID, query, resultID, resultType string) Event {
	return Event{
		Type:       EventView,
		Query:      query,
		SessionID:  sessionID,
		Timestamp:  time.Now(),
		ResultID:   resultID,
		ResultType: resultType,
	}
}

// WithUser sets the optional user identifier and returns the event for
// chaining.
func (e Event) WithUser(userID string) Event {
	e.UserID = userID
	return e
}

// WithFilters sets the applied filters and returns the event for chaining.
func (e Event) WithFilters(filters map[string]string) Event {
	e.Filters = filters
	return e
}

// WithSort sets the applied sort and returns the event for chaining.
func (e Event) WithSort(sort string) Event {
	e.Sort = sort
	return e
}

// WithPage sets the result page and returns the event for chaining.
func (e Event) WithPage(page int) Event {
	e.Page = page
	return e
}

// Validate checks the invariants required for aggregation.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return ErrMissingSession
	}
	return nil
}
