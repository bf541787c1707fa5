package wenzheng

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

// ThreadPage is one page of complaint threads assigned to an organization.
// Records stay raw; the normalization boundary upstream decides what to keep.
type ThreadPage struct {
	Records []json.RawMessage `json:"records"`
	Total   int               `json:"total"`
}

// threadPageRequest mirrors the board's listing payload. The null filters
// stay null, exactly as the web client sends them.
type threadPageRequest struct {
	SortID               *string `json:"sort_id"`
	FieldID              *string `json:"field_id"`
	ReplyStatus          string  `json:"reply_status"`
	AssignOrganizationID int64   `json:"assign_organization_id"`
	Page                 int     `json:"page"`
	Size                 int     `json:"size"`
	NeedTotal            bool    `json:"need_total"`
}

// ThreadPage fetches one page of threads for the organization. Pages are
// 1-based; Total is the full thread count for the organization so callers
// can derive how many pages remain.
func (c *httpClient) ThreadPage(ctx context.Context, orgID string, page, size int) (*ThreadPage, error) {
	id, err := numericID(orgID)
	if err != nil {
		return nil, eris.Wrapf(err, "wenzheng: thread page for %q", orgID)
	}

	data, err := c.post(ctx, "/thread/page", threadPageRequest{
		AssignOrganizationID: id,
		Page:                 page,
		Size:                 size,
		NeedTotal:            true,
	})
	if err != nil {
		return nil, err
	}

	var result ThreadPage
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrapf(err, "wenzheng: decode thread page for %q", orgID)
	}
	return &result, nil
}

// numericID parses the string form of an upstream ID back to the number the
// API expects. Non-numeric IDs are a caller bug, not a retryable condition.
func numericID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, eris.Errorf("organization id %q is not numeric", s)
	}
	return id, nil
}
