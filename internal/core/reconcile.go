package core

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// MaxSuggestions caps the "did you mean" list on each unmatched course.
const MaxSuggestions = 3

// ReconcileCourses matches each row's course against the catalog, by exact
// case-insensitive name first and course code second. Rows that match
// neither are grouped into buckets keyed by normalized name, in the order
// the names first appear, so the same file always yields the same worklist.
//
// The input rows are not modified. A catalog error aborts the stage.
func ReconcileCourses(ctx context.Context, rows []ParsedRow, catalog CourseCatalog) ([]ParsedRow, []UnmatchedCourse, error) {
	out := cloneRows(rows)

	byName := make(map[string]*Course)
	byCode := make(map[string]*Course)
	buckets := make(map[string]int)
	unmatched := []UnmatchedCourse{}

	for i := range out {
		row := &out[i]
		row.CourseID = ""
		row.CourseMatched = false
		row.CourseTrainingType = ""

		key := NormalizeKey(row.CourseName)
		if key == "" {
			continue
		}

		course, err := memoFind(ctx, byName, key, row.CourseName, catalog.FindCourseByName)
		if err != nil {
			return nil, nil, fmt.Errorf("reconcile courses: find %q: %w", row.CourseName, err)
		}
		if course == nil {
			if codeKey := NormalizeKey(row.CourseCode); codeKey != "" {
				course, err = memoFind(ctx, byCode, codeKey, row.CourseCode, catalog.FindCourseByCode)
				if err != nil {
					return nil, nil, fmt.Errorf("reconcile courses: find code %q: %w", row.CourseCode, err)
				}
			}
		}

		if course != nil {
			row.CourseID = course.ID
			row.CourseMatched = true
			row.CourseTrainingType = course.TrainingType
			continue
		}

		pos, ok := buckets[key]
		if !ok {
			pos = len(unmatched)
			buckets[key] = pos
			unmatched = append(unmatched, UnmatchedCourse{Key: key, CSVCourseName: row.CourseName})
		}
		b := &unmatched[pos]
		b.Occurrences++
		if b.CourseCode == "" {
			b.CourseCode = row.CourseCode
		}
	}

	if lister, ok := catalog.(CourseLister); ok && len(unmatched) > 0 {
		courses, err := lister.ListCourses(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("reconcile courses: list catalog: %w", err)
		}
		for i := range unmatched {
			unmatched[i].Suggestions = SuggestCourses(unmatched[i].CSVCourseName, courses, MaxSuggestions)
		}
	}

	return out, unmatched, nil
}

func memoFind(ctx context.Context, memo map[string]*Course, key, raw string,
	find func(context.Context, string) (*Course, error)) (*Course, error) {
	if c, ok := memo[key]; ok {
		return c, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := find(ctx, raw)
	if err != nil {
		return nil, err
	}
	memo[key] = c
	return c, nil
}

// SuggestCourses ranks catalog courses that look like name: a small edit
// distance, or one name containing the other's letters in order. Results are
// sorted by distance, then name, and never applied automatically.
func SuggestCourses(name string, courses []Course, limit int) []CourseSuggestion {
	key := NormalizeKey(name)
	if key == "" || limit <= 0 {
		return nil
	}
	maxDist := max(2, utf8.RuneCountInString(key)/3)

	var out []CourseSuggestion
	for _, c := range courses {
		ck := NormalizeKey(c.Name)
		if ck == "" || ck == key {
			continue
		}
		dist := fuzzy.LevenshteinDistance(key, ck)
		related := dist <= maxDist
		if !related && min(utf8.RuneCountInString(key), utf8.RuneCountInString(ck)) >= 3 {
			related = fuzzy.MatchNormalizedFold(key, ck) || fuzzy.MatchNormalizedFold(ck, key)
		}
		if related {
			out = append(out, CourseSuggestion{CourseID: c.ID, Name: c.Name, Distance: dist})
		}
	}

	slices.SortFunc(out, func(a, b CourseSuggestion) int {
		return cmp.Or(
			cmp.Compare(a.Distance, b.Distance),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.CourseID, b.CourseID),
		)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
