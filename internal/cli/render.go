package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JonMunkholm/trainingimport/internal/core"
	"github.com/JonMunkholm/trainingimport/internal/session"
)

// renderer writes command output as tables or JSON.
type renderer struct {
	w    io.Writer
	json bool
}

func newRenderer(w io.Writer, output string) *renderer {
	return &renderer{w: w, json: output == "json"}
}

func (r *renderer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	return t
}

func (r *renderer) writeJSON(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// sessionView is the JSON shape of a session.
type sessionView struct {
	ID        string                    `json:"id"`
	Stage     core.Stage                `json:"stage"`
	FileName  string                    `json:"file_name"`
	Strategy  core.MatchStrategy        `json:"strategy"`
	Warnings  []string                  `json:"warnings"`
	Summary   core.ImportSummary        `json:"summary"`
	Unmatched []core.UnmatchedCourse    `json:"unmatched_courses"`
	Mappings  []core.CourseMappingEntry `json:"mappings"`
	Issues    []core.PreviewRow         `json:"row_issues"`
	Result    *core.ImportResult        `json:"result,omitempty"`
}

func (r *renderer) session(sess *core.Session) error {
	mappings := sess.Mapping.Resolved(sess.Buckets)
	projected := core.Project(sess.Rows, sess.Mapping)
	issues := rowIssues(projected.Rows)
	if r.json {
		return r.writeJSON(sessionView{
			ID:        sess.ID,
			Stage:     sess.Stage,
			FileName:  sess.FileName,
			Strategy:  sess.Strategy,
			Warnings:  nonNil(sess.Warnings),
			Summary:   projected.Summary,
			Unmatched: nonNil(sess.Buckets),
			Mappings:  nonNil(mappings),
			Issues:    nonNil(issues),
			Result:    sess.Result,
		})
	}

	fmt.Fprintf(r.w, "Session:  %s\n", sess.ID)
	fmt.Fprintf(r.w, "File:     %s (match by %s)\n", sess.FileName, sess.Strategy)
	fmt.Fprintf(r.w, "Stage:    %s\n", sess.Stage)
	for _, w := range sess.Warnings {
		fmt.Fprintf(r.w, "Warning:  %s\n", w)
	}
	fmt.Fprintln(r.w)

	r.summaryTable(projected.Summary)

	if len(issues) > 0 {
		fmt.Fprintln(r.w)
		t := r.newTable()
		t.SetTitle("Rows needing attention")
		t.AppendHeader(table.Row{"Row", "Member", "Course", "Status", "Problem"})
		for _, row := range issues {
			t.AppendRow(table.Row{row.RowNumber, memberText(row.ParsedRow), row.CourseName,
				row.Status, issueText(row)})
		}
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: 60}})
		t.Render()
	}

	if len(sess.Buckets) > 0 {
		decisions := make(map[string]core.CourseMappingEntry, len(mappings))
		for _, m := range mappings {
			decisions[core.NormalizeKey(m.CSVCourseName)] = m
		}

		fmt.Fprintln(r.w)
		t := r.newTable()
		t.SetTitle("Courses not in the catalog")
		t.AppendHeader(table.Row{"Course", "Code", "Rows", "Decision", "Suggestions"})
		for _, b := range sess.Buckets {
			t.AppendRow(table.Row{b.CSVCourseName, b.CourseCode, b.Occurrences,
				decisionText(decisions[b.Key]), suggestionText(b.Suggestions)})
		}
		t.Render()
	}

	if sess.Result != nil {
		fmt.Fprintln(r.w)
		return r.result(sess.Result)
	}
	return nil
}

// rowIssues keeps the rows that will not import for a reason the file can
// fix: row errors and members that matched nobody.
func rowIssues(rows []core.PreviewRow) []core.PreviewRow {
	var out []core.PreviewRow
	for _, row := range rows {
		if row.Status == core.StatusError || row.Status == core.StatusUnmatchedMember {
			out = append(out, row)
		}
	}
	return out
}

func issueText(row core.PreviewRow) string {
	if len(row.Errors) > 0 {
		return strings.Join(row.Errors, "; ")
	}
	return "no matching member"
}

func (r *renderer) summaryTable(s core.ImportSummary) {
	t := r.newTable()
	t.AppendHeader(table.Row{"Summary", "Rows"})
	t.AppendRows([]table.Row{
		{"Total", s.TotalRows},
		{"Members matched", s.MembersMatched},
		{"Members unmatched", s.MembersUnmatched},
		{"Courses matched", s.CoursesMatched},
		{"Courses unmatched", s.CoursesUnmatched},
		{"Unmatched course names", s.UnmatchedCourseNames},
		{"With errors", s.ErrorRows},
		{"Skipped", s.SkippedRows},
		{"Will import", s.WillImport},
	})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()
}

func decisionText(e core.CourseMappingEntry) string {
	switch e.Action {
	case core.ActionMapExisting:
		return "map to " + e.ExistingCourseID
	case core.ActionCreateNew:
		if e.TrainingType != "" {
			return "create (" + e.TrainingType + ")"
		}
		return "create"
	}
	return string(e.Action)
}

func suggestionText(s []core.CourseSuggestion) string {
	names := make([]string, 0, len(s))
	for _, c := range s {
		names = append(names, fmt.Sprintf("%s [%s]", c.Name, c.CourseID))
	}
	return strings.Join(names, "\n")
}

func (r *renderer) preview(p *core.Preview) error {
	if r.json {
		p.Rows = nonNil(p.Rows)
		return r.writeJSON(p)
	}

	t := r.newTable()
	t.AppendHeader(table.Row{"Row", "Member", "Course", "Completed", "Status", "Notes"})
	for _, row := range p.Rows {
		t.AppendRow(table.Row{row.RowNumber, memberText(row.ParsedRow), row.CourseName,
			dateText(row.CompletionDate), row.Status, statusNote(row)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 6, WidthMax: 60}})
	t.Render()
	fmt.Fprintln(r.w)
	r.summaryTable(p.Summary)
	return nil
}

func memberText(row core.ParsedRow) string {
	if row.MemberMatched {
		return row.MatchedMemberName
	}
	for _, v := range []string{row.Email, row.BadgeNumber, row.Name,
		strings.TrimSpace(row.FirstName + " " + row.LastName)} {
		if v != "" {
			return v + " (unmatched)"
		}
	}
	return "(unmatched)"
}

func statusNote(row core.PreviewRow) string {
	if len(row.Errors) > 0 {
		return strings.Join(row.Errors, "; ")
	}
	if row.Action != "" {
		return string(row.Action)
	}
	return ""
}

func dateText(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func (r *renderer) result(res *core.ImportResult) error {
	if r.json {
		out := *res
		out.Errors = nonNil(out.Errors)
		return r.writeJSON(out)
	}

	t := r.newTable()
	t.AppendHeader(table.Row{"Result", "Rows"})
	t.AppendRows([]table.Row{
		{"Total", res.Total},
		{"Imported", res.Imported},
		{"Skipped", res.Skipped},
		{"Failed", res.Failed},
		{"Excluded", res.Excluded},
		{"Courses created", res.CoursesCreated},
	})
	t.AppendFooter(table.Row{"Duration", res.Duration.Round(time.Millisecond).String()})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()

	if len(res.Errors) > 0 {
		fmt.Fprintln(r.w)
		et := r.newTable()
		et.AppendHeader(table.Row{"Errors"})
		for _, e := range res.Errors {
			et.AppendRow(table.Row{e})
		}
		et.Render()
	}
	return nil
}

func (r *renderer) sessions(list []session.SessionInfo) error {
	if r.json {
		return r.writeJSON(nonNil(list))
	}
	if len(list) == 0 {
		fmt.Fprintln(r.w, "No import sessions.")
		return nil
	}

	t := r.newTable()
	t.AppendHeader(table.Row{"Session", "Stage", "File", "Updated"})
	for _, s := range list {
		t.AppendRow(table.Row{s.ID, s.Stage, s.FileName, s.UpdatedAt.Local().Format(time.DateTime)})
	}
	t.Render()
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
