package normalize

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/wzwatch/wenzheng-cli/internal/model"
)

// threadWire mirrors the fields kept from one upstream thread record. IDs
// and status tags arrive as numbers or strings depending on the endpoint
// revision, so the flexible fields decode through json.RawMessage.
type threadWire struct {
	ID           json.RawMessage `json:"id"`
	Title        string          `json:"title"`
	Content      string          `json:"content"`
	AssignOrgID  json.RawMessage `json:"assign_organization_id"`
	HandleStatus json.RawMessage `json:"handle_status"`
	ReplyStatus  json.RawMessage `json:"reply_status"`
	Source       json.RawMessage `json:"source"`
	AreaID       json.RawMessage `json:"area_id"`
	FieldID      json.RawMessage `json:"field_id"`
	SortID       json.RawMessage `json:"sort_id"`
	Attaches     json.RawMessage `json:"attaches"`
	CreatedAt    json.RawMessage `json:"created_at"`
	UpdatedAt    json.RawMessage `json:"updated_at"`
}

// ComplaintFromRecord converts one raw thread record into a Complaint.
// fallbackOrgID fills the organization when the record does not carry its
// own assignment; the full record survives in Raw.
func ComplaintFromRecord(raw json.RawMessage, fallbackOrgID string) (model.Complaint, error) {
	var wire threadWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return model.Complaint{}, eris.Wrap(err, "normalize: decode thread record")
	}

	id := scalarString(wire.ID)
	if id == "" {
		return model.Complaint{}, &StructureError{Reason: "thread record has no id"}
	}

	orgID := scalarString(wire.AssignOrgID)
	if orgID == "" {
		orgID = fallbackOrgID
	}

	c := model.Complaint{
		ThreadID:     id,
		Title:        CleanText(wire.Title),
		Content:      wire.Content,
		OrgID:        orgID,
		HandleStatus: scalarString(wire.HandleStatus),
		ReplyStatus:  scalarString(wire.ReplyStatus),
		Source:       scalarString(wire.Source),
		AreaID:       scalarString(wire.AreaID),
		FieldID:      scalarString(wire.FieldID),
		SortID:       scalarString(wire.SortID),
		Attaches:     wire.Attaches,
		Raw:          raw,
	}
	if t, ok := model.ParseSourceTime(scalarString(wire.CreatedAt)); ok {
		c.CreatedAt = t
	}
	if t, ok := model.ParseSourceTime(scalarString(wire.UpdatedAt)); ok {
		c.UpdatedAt = t
	}
	return c, nil
}

// scalarString renders a JSON scalar as a string whether it arrived quoted,
// as a bare number, or not at all.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return string(raw)
}
