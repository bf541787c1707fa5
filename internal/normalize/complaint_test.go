package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplaintFromRecord(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"id": 982451,
		"title": "　小区电梯停运两周无人维修　",
		"content": "电梯从本月初停运至今...",
		"assign_organization_id": 5101,
		"handle_status": 2,
		"reply_status": "已回复",
		"source": "web",
		"area_id": 510104,
		"field_id": 7,
		"sort_id": null,
		"attaches": [{"url": "https://example.com/a.jpg"}],
		"created_at": "2025-06-01 09:30:00",
		"updated_at": 1748770200000
	}`)

	c, err := ComplaintFromRecord(raw, "9999")
	require.NoError(t, err)

	assert.Equal(t, "982451", c.ThreadID)
	assert.Equal(t, "小区电梯停运两周无人维修", c.Title)
	assert.Equal(t, "5101", c.OrgID, "record's own assignment wins over the fallback")
	assert.Equal(t, "2", c.HandleStatus)
	assert.Equal(t, "已回复", c.ReplyStatus)
	assert.Equal(t, "web", c.Source)
	assert.Equal(t, "510104", c.AreaID)
	assert.Equal(t, "7", c.FieldID)
	assert.Equal(t, "", c.SortID)
	assert.JSONEq(t, `[{"url": "https://example.com/a.jpg"}]`, string(c.Attaches))
	assert.Equal(t, time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC), c.CreatedAt)
	assert.False(t, c.UpdatedAt.IsZero(), "epoch millis parse")
	assert.JSONEq(t, string(raw), string(c.Raw))
}

func TestComplaintFromRecord_FallbackOrg(t *testing.T) {
	t.Parallel()

	c, err := ComplaintFromRecord(json.RawMessage(`{"id": "77", "title": "噪音扰民"}`), "5101")
	require.NoError(t, err)
	assert.Equal(t, "77", c.ThreadID)
	assert.Equal(t, "5101", c.OrgID)
	assert.True(t, c.CreatedAt.IsZero())
}

func TestComplaintFromRecord_MissingID(t *testing.T) {
	t.Parallel()

	_, err := ComplaintFromRecord(json.RawMessage(`{"title": "无主记录"}`), "1")
	var se *StructureError
	require.ErrorAs(t, err, &se)
}

func TestComplaintFromRecord_BadJSON(t *testing.T) {
	t.Parallel()

	_, err := ComplaintFromRecord(json.RawMessage(`{"id":`), "1")
	require.Error(t, err)
}
