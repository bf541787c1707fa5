// Package normalize turns raw upstream payloads into storable records. The
// tree flattener assigns parent, level and materialized path in one pre-order
// pass; the record converters validate required fields and fold CJK text
// variants so the same organization never appears under two spellings.
package normalize

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/wzwatch/wenzheng-cli/internal/model"
	"github.com/wzwatch/wenzheng-cli/pkg/wenzheng"
)

// StructureError reports an upstream record that violates the expected shape
// (missing id, empty name). Structure failures are never retried; the unit
// that produced them is marked failed.
type StructureError struct {
	RecordID string
	Reason   string
}

func (e *StructureError) Error() string {
	if e.RecordID == "" {
		return "malformed record: " + e.Reason
	}
	return fmt.Sprintf("malformed record %s: %s", e.RecordID, e.Reason)
}

// Flatten walks the forest pre-order and produces one Organization per node.
// Roots sit at level 0 with path equal to their own id; every child extends
// the parent's path by one dotted segment, so the segment count always equals
// level+1.
func Flatten(forest []wenzheng.RawNode) ([]model.Organization, error) {
	return FlattenUnder(forest, "", "", 0)
}

// FlattenUnder grafts the forest beneath an existing node: roots take the
// given parent and level. The tree crawl uses it to place re-fetched city
// subtrees under the province without re-walking the whole forest.
func FlattenUnder(forest []wenzheng.RawNode, parentID, parentPath string, level int) ([]model.Organization, error) {
	var out []model.Organization
	for _, root := range forest {
		if err := walk(root, parentID, parentPath, level, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func walk(n wenzheng.RawNode, parentID, parentPath string, level int, out *[]model.Organization) error {
	id := strings.TrimSpace(n.ID)
	if id == "" {
		return &StructureError{Reason: fmt.Sprintf("node %q has no id", n.Name)}
	}
	if strings.Contains(id, model.PathSeparator) {
		return &StructureError{RecordID: id, Reason: "id contains the path separator"}
	}
	name := CleanText(n.Name)
	if name == "" {
		return &StructureError{RecordID: id, Reason: "node has no name"}
	}

	path := model.JoinPath(parentPath, id)
	*out = append(*out, model.Organization{
		OrgID:       id,
		Name:        name,
		ParentID:    parentID,
		Type:        nodeType(n.Type, level),
		Level:       level,
		Path:        path,
		HasChildren: n.HasChildren || len(n.Children) > 0,
		Extra:       n.Extra,
	})

	for _, child := range n.Children {
		if err := walk(child, id, path, level+1, out); err != nil {
			return err
		}
	}
	return nil
}

// nodeType normalizes the upstream type tag, falling back to the level's
// conventional tier when the tag is missing.
func nodeType(raw string, level int) string {
	t := strings.ToUpper(strings.TrimSpace(raw))
	if t != "" {
		return t
	}
	switch level {
	case 0:
		return model.OrgTypeProvince
	case 1:
		return model.OrgTypeCity
	case 2:
		return model.OrgTypeArea
	default:
		return model.OrgTypeDepartment
	}
}

// CleanText folds full-width ASCII variants to their half-width forms,
// applies NFC composition and trims surrounding whitespace. Upstream names
// mix ｆｕｌｌ－ｗｉｄｔｈ and half-width punctuation freely.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = width.Fold.String(s)
	s = norm.NFC.String(s)
	return strings.TrimSpace(s)
}
