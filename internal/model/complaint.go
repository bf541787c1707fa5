package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Complaint is one complaint thread fetched from the board, keyed by the
// source-assigned ThreadID. Raw preserves the full source record so fields
// this model doesn't carry explicitly survive round trips.
type Complaint struct {
	ThreadID     string          `json:"thread_id"`
	Title        string          `json:"title"`
	Content      string          `json:"content"`
	OrgID        string          `json:"org_id"`
	HandleStatus string          `json:"handle_status,omitempty"`
	ReplyStatus  string          `json:"reply_status,omitempty"`
	Category     string          `json:"category,omitempty"`
	Source       string          `json:"source,omitempty"`
	AreaID       string          `json:"area_id,omitempty"`
	FieldID      string          `json:"field_id,omitempty"`
	SortID       string          `json:"sort_id,omitempty"`
	Attaches     json.RawMessage `json:"attaches,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	SyncedAt     time.Time       `json:"synced_at,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// sourceTimeLayouts are the timestamp shapes observed in board payloads.
var sourceTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// ParseSourceTime parses a timestamp in any of the layouts the board emits,
// including epoch milliseconds. Returns false when the value is empty or in
// no known layout.
func ParseSourceTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range sourceTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// Epoch milliseconds (13 digits) or seconds (10 digits).
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case len(s) >= 13:
			return time.UnixMilli(n).UTC(), true
		case len(s) == 10:
			return time.Unix(n, 0).UTC(), true
		}
	}

	return time.Time{}, false
}
