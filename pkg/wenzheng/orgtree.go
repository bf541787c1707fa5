package wenzheng

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// RawNode is one node of the upstream organization tree, as the API returns
// it. IDs arrive as JSON numbers and are normalized to strings; keys not
// modeled here survive in Extra so nothing from the source is lost.
type RawNode struct {
	ID          string
	Name        string
	Type        string
	HasChildren bool
	Children    []RawNode
	Extra       map[string]any
}

// rawNodeWire carries the typed fields during decoding; Extra is collected
// in a second pass over the raw object.
type rawNodeWire struct {
	ID          json.RawMessage `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	HasChildren bool            `json:"has_children"`
	Children    []RawNode       `json:"children"`
}

// UnmarshalJSON decodes a node, folding numeric IDs to strings and sweeping
// unknown keys into Extra.
func (n *RawNode) UnmarshalJSON(data []byte) error {
	var wire rawNodeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	n.ID = flexString(wire.ID)
	n.Name = wire.Name
	n.Type = wire.Type
	n.HasChildren = wire.HasChildren
	n.Children = wire.Children

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	for _, k := range []string{"id", "name", "type", "has_children", "children"} {
		delete(m, k)
	}
	if len(m) > 0 {
		n.Extra = m
	}
	return nil
}

// MarshalJSON re-emits the node in its wire shape, folding Extra back into
// the object so snapshots round-trip keys this type doesn't model.
func (n RawNode) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(n.Extra)+5)
	for k, v := range n.Extra {
		obj[k] = v
	}
	obj["id"] = n.ID
	obj["name"] = n.Name
	if n.Type != "" {
		obj["type"] = n.Type
	}
	obj["has_children"] = n.HasChildren
	if len(n.Children) > 0 {
		obj["children"] = n.Children
	}
	return json.Marshal(obj)
}

// flexString renders a JSON scalar as a string whether it arrived quoted
// or as a bare number.
func flexString(raw json.RawMessage) string {
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

// decodeForest accepts the data payload as either a single node or an array
// of nodes and always returns a forest.
func decodeForest(data json.RawMessage) ([]RawNode, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var forest []RawNode
		if err := json.Unmarshal(trimmed, &forest); err != nil {
			return nil, eris.Wrap(err, "decode node array")
		}
		return forest, nil
	}
	var node RawNode
	if err := json.Unmarshal(trimmed, &node); err != nil {
		return nil, eris.Wrap(err, "decode node")
	}
	return []RawNode{node}, nil
}

// ProvinceTree fetches the province-level forest. Provinces carry their
// city children inline.
func (c *httpClient) ProvinceTree(ctx context.Context) ([]RawNode, error) {
	data, err := c.post(ctx, "/org/province_tree", map[string]any{})
	if err != nil {
		return nil, err
	}
	forest, err := decodeForest(data)
	if err != nil {
		return nil, eris.Wrap(err, "wenzheng: province tree")
	}
	return forest, nil
}

// CityTree fetches the subtree rooted at one city: its districts and the
// department bodies under them.
func (c *httpClient) CityTree(ctx context.Context, cityID string) ([]RawNode, error) {
	id, err := numericID(cityID)
	if err != nil {
		return nil, eris.Wrapf(err, "wenzheng: city tree for %q", cityID)
	}
	data, err := c.post(ctx, "/org/city_tree", map[string]any{"cityId": id})
	if err != nil {
		return nil, err
	}
	forest, err := decodeForest(data)
	if err != nil {
		return nil, eris.Wrapf(err, "wenzheng: city tree for %q", cityID)
	}
	return forest, nil
}
