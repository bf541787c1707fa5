package model

import (
	"strings"
	"time"
)

// Organization types as delivered by the upstream tree endpoints.
const (
	OrgTypeProvince   = "PROVINCE"
	OrgTypeCity       = "CITY"
	OrgTypeArea       = "AREA"
	OrgTypeDepartment = "DEPARTMENT"
)

// PathSeparator joins org IDs into a materialized hierarchy path.
const PathSeparator = "."

// Organization is one flattened node of the government body tree.
// Path is the dotted chain of org IDs from the root down to this node
// inclusive, so Level == number of path segments - 1.
type Organization struct {
	OrgID       string         `json:"org_id"`
	Name        string         `json:"name"`
	ParentID    string         `json:"parent_id,omitempty"`
	Type        string         `json:"type"`
	Level       int            `json:"level"`
	Path        string         `json:"path"`
	HasChildren bool           `json:"has_children"`
	Extra       map[string]any `json:"extra,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PathSegments splits the dotted path into its org ID chain, root first.
func (o Organization) PathSegments() []string {
	if o.Path == "" {
		return nil
	}
	return strings.Split(o.Path, PathSeparator)
}

// ParentPath returns the path of the parent node, or "" for a root.
func (o Organization) ParentPath() string {
	idx := strings.LastIndex(o.Path, PathSeparator)
	if idx < 0 {
		return ""
	}
	return o.Path[:idx]
}

// JoinPath appends an org ID to a parent path.
func JoinPath(parentPath, orgID string) string {
	if parentPath == "" {
		return orgID
	}
	return parentPath + PathSeparator + orgID
}

// PathDepth counts the segments of a dotted path.
func PathDepth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, PathSeparator) + 1
}
