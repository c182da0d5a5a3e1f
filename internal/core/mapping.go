package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultTrainingType is used for created courses when nothing else is set.
const DefaultTrainingType = "continuing_education"

var validate = validator.New(validator.WithRequiredStructEnabled())

// MappingTable holds one decision per unmatched course bucket, keyed by the
// normalized course name. A bucket without an entry resolves to create_new
// with the table's default training type.
//
// A MappingTable is owned by one import session and is not safe for
// concurrent mutation.
type MappingTable struct {
	defaultType string
	entries     map[string]CourseMappingEntry
}

// NewMappingTable creates an empty table. An empty defaultTrainingType falls
// back to DefaultTrainingType.
func NewMappingTable(defaultTrainingType string) *MappingTable {
	if strings.TrimSpace(defaultTrainingType) == "" {
		defaultTrainingType = DefaultTrainingType
	}
	return &MappingTable{
		defaultType: defaultTrainingType,
		entries:     make(map[string]CourseMappingEntry),
	}
}

// DefaultTrainingType returns the fallback type for created courses.
func (m *MappingTable) DefaultTrainingType() string {
	return m.defaultType
}

// Upsert validates entry and replaces any decision for the same course name.
// Fields that belong to other actions are cleared so a bucket switched from
// map_existing to create_new cannot keep a stale target id.
func (m *MappingTable) Upsert(entry CourseMappingEntry) error {
	entry.CSVCourseName = collapseSpaces(entry.CSVCourseName)
	entry.ExistingCourseID = strings.TrimSpace(entry.ExistingCourseID)
	entry.TrainingType = strings.TrimSpace(entry.TrainingType)

	if err := validate.Struct(entry); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMapping, describeValidation(entry, err))
	}

	switch entry.Action {
	case ActionMapExisting:
		entry.TrainingType = ""
	case ActionCreateNew:
		entry.ExistingCourseID = ""
		if entry.TrainingType == "" {
			entry.TrainingType = m.defaultType
		}
	case ActionSkip:
		entry.ExistingCourseID = ""
		entry.TrainingType = ""
	}

	m.entries[NormalizeKey(entry.CSVCourseName)] = entry
	return nil
}

// Get returns the decision for a course name, or the create_new default when
// none was recorded.
func (m *MappingTable) Get(courseName string) CourseMappingEntry {
	if e, ok := m.entries[NormalizeKey(courseName)]; ok {
		return e
	}
	return CourseMappingEntry{
		CSVCourseName: collapseSpaces(courseName),
		Action:        ActionCreateNew,
		TrainingType:  m.defaultType,
	}
}

// Has reports whether an explicit decision exists for courseName.
func (m *MappingTable) Has(courseName string) bool {
	_, ok := m.entries[NormalizeKey(courseName)]
	return ok
}

// Len returns the number of explicit decisions.
func (m *MappingTable) Len() int {
	return len(m.entries)
}

// Entries returns the explicit decisions sorted by key.
func (m *MappingTable) Entries() []CourseMappingEntry {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]CourseMappingEntry, len(keys))
	for i, k := range keys {
		out[i] = m.entries[k]
	}
	return out
}

// Resolved returns the effective decision for every bucket, explicit or default.
func (m *MappingTable) Resolved(buckets []UnmatchedCourse) []CourseMappingEntry {
	out := make([]CourseMappingEntry, len(buckets))
	for i, b := range buckets {
		out[i] = m.Get(b.CSVCourseName)
	}
	return out
}

// Clone returns an independent copy.
func (m *MappingTable) Clone() *MappingTable {
	c := NewMappingTable(m.defaultType)
	for k, v := range m.entries {
		c.entries[k] = v
	}
	return c
}

type mappingTableJSON struct {
	DefaultTrainingType string               `json:"default_training_type"`
	Entries             []CourseMappingEntry `json:"entries"`
}

func (m *MappingTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(mappingTableJSON{
		DefaultTrainingType: m.defaultType,
		Entries:             m.Entries(),
	})
}

func (m *MappingTable) UnmarshalJSON(data []byte) error {
	var raw mappingTableJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = *NewMappingTable(raw.DefaultTrainingType)
	for _, e := range raw.Entries {
		if err := m.Upsert(e); err != nil {
			return err
		}
	}
	return nil
}

func describeValidation(entry CourseMappingEntry, err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", jsonFieldName(fe.Field())))
		case "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required for %s", jsonFieldName(fe.Field()), ActionMapExisting))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("action %q must be one of %s", entry.Action, strings.ReplaceAll(fe.Param(), " ", ", ")))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s is longer than %s characters", jsonFieldName(fe.Field()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", jsonFieldName(fe.Field()), fe.Tag()))
		}
	}
	name := entry.CSVCourseName
	if name == "" {
		return strings.Join(msgs, "; ")
	}
	return fmt.Sprintf("%q: %s", name, strings.Join(msgs, "; "))
}

func jsonFieldName(field string) string {
	switch field {
	case "CSVCourseName":
		return "csv_course_name"
	case "Action":
		return "action"
	case "ExistingCourseID":
		return "existing_course_id"
	case "TrainingType":
		return "training_type"
	}
	return field
}
