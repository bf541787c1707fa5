// Package report renders store query results into xlsx workbooks for
// offline analysis.
package report

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/wzwatch/wenzheng-cli/internal/model"
)

var orgHeader = []string{
	"org_id", "name", "type", "level", "path", "parent_id",
	"has_children", "created_at", "updated_at",
}

var complaintHeader = []string{
	"thread_id", "title", "org_id", "category", "handle_status",
	"reply_status", "source", "area_id", "field_id", "sort_id",
	"created_at", "updated_at", "synced_at", "content",
}

// WriteOrganizations writes one workbook with an "organizations" sheet,
// one row per organization in the order given.
func WriteOrganizations(path string, orgs []model.Organization) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("organizations")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	writeHeader(sheet, orgHeader)
	for _, o := range orgs {
		row := sheet.AddRow()
		row.AddCell().SetString(o.OrgID)
		row.AddCell().SetString(o.Name)
		row.AddCell().SetString(string(o.Type))
		row.AddCell().SetInt(o.Level)
		row.AddCell().SetString(o.Path)
		row.AddCell().SetString(o.ParentID)
		row.AddCell().SetBool(o.HasChildren)
		row.AddCell().SetString(formatTime(o.CreatedAt))
		row.AddCell().SetString(formatTime(o.UpdatedAt))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

// WriteComplaints writes one workbook with a "complaints" sheet. Content
// goes in the last column so the narrow fields stay readable.
func WriteComplaints(path string, complaints []model.Complaint) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("complaints")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	writeHeader(sheet, complaintHeader)
	for _, c := range complaints {
		row := sheet.AddRow()
		row.AddCell().SetString(c.ThreadID)
		row.AddCell().SetString(c.Title)
		row.AddCell().SetString(c.OrgID)
		row.AddCell().SetString(c.Category)
		row.AddCell().SetString(c.HandleStatus)
		row.AddCell().SetString(c.ReplyStatus)
		row.AddCell().SetString(c.Source)
		row.AddCell().SetString(c.AreaID)
		row.AddCell().SetString(c.FieldID)
		row.AddCell().SetString(c.SortID)
		row.AddCell().SetString(formatTime(c.CreatedAt))
		row.AddCell().SetString(formatTime(c.UpdatedAt))
		row.AddCell().SetString(formatTime(c.SyncedAt))
		row.AddCell().SetString(c.Content)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func writeHeader(sheet *xlsx.Sheet, header []string) {
	row := sheet.AddRow()
	for _, h := range header {
		row.AddCell().SetString(h)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
