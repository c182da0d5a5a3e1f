package core

// parse.go turns an import file into ParsedRows.
//
// The header is the first non-blank record. Every later non-blank record
// becomes exactly one ParsedRow, whatever is wrong with it: bad cells and
// missing identity columns are recorded as row errors so the user can see
// which lines need attention. Only an unreadable file fails the parse.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errInvalidBool     = errors.New("invalid yes/no value")
	errNegativeNumber  = errors.New("must not be negative")
	errExpiryBeforeEnd = errors.New("expiration_date is before completion_date")
)

// ParseOutput is the result of parsing one file.
type ParseOutput struct {
	FileName string        `json:"file_name"`
	Strategy MatchStrategy `json:"strategy"`
	Rows     []ParsedRow   `json:"rows"`

	// Columns lists the recognized header columns in file order.
	Columns []string `json:"columns"`

	// Warnings are file-level notes: unrecognized columns, blank rows,
	// replaced characters. They never block the import.
	Warnings []string `json:"warnings"`

	BytesRead int64 `json:"bytes_read"`
}

// record is one row of input. row is its 1-based ordinal: each record and
// each empty line counts once, however many lines its quoted cells span.
// blanks is the number of empty lines skipped just before it.
type record struct {
	fields []string
	row    int
	blanks int
}

type recordSource interface {
	next() (record, error)
}

type csvSource struct {
	r *csv.Reader

	row     int // ordinal of the last record returned
	endLine int // physical line the last record ended on
}

func newCSVSource(r io.Reader) *csvSource {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return &csvSource{r: cr}
}

// next maps physical lines back to row ordinals. encoding/csv drops empty
// lines without a trace, so they are recovered from the gap between the
// previous record's last line and this record's first.
func (s *csvSource) next() (record, error) {
	fields, err := s.r.Read()
	if err != nil {
		return record{}, err
	}
	start, _ := s.r.FieldPos(0)
	last, _ := s.r.FieldPos(len(fields) - 1)

	blanks := max(start-s.endLine-1, 0)
	s.row += blanks + 1
	s.endLine = last + strings.Count(fields[len(fields)-1], "\n")
	return record{fields: fields, row: s.row, blanks: blanks}, nil
}

type sliceSource struct {
	rows [][]string
	pos  int
}

func (s *sliceSource) next() (record, error) {
	if s.pos >= len(s.rows) {
		return record{}, io.EOF
	}
	s.pos++
	return record{fields: s.rows[s.pos-1], row: s.pos}, nil
}

// IsSpreadsheet reports whether fileName names an Excel workbook.
func IsSpreadsheet(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

// ParseFile reads an import file and returns its rows. fileName selects the
// reader (.xlsx goes through the spreadsheet reader, anything else is CSV)
// and labels errors. The returned error is always a *FileError or an
// invalid-strategy error; row problems are carried on the rows.
func ParseFile(r io.Reader, fileName string, strategy MatchStrategy) (*ParseOutput, error) {
	if !strategy.Valid() {
		return nil, &invalidStrategyError{value: string(strategy)}
	}

	out := &ParseOutput{
		FileName: fileName,
		Strategy: strategy,
		Rows:     []ParsedRow{},
		Columns:  []string{},
		Warnings: []string{},
	}

	var (
		src   recordSource
		input *StreamingInput
	)
	if IsSpreadsheet(fileName) {
		counter := NewStreamingCountingReader(r)
		rows, err := readSpreadsheet(counter)
		if err != nil {
			return nil, newFileError(fileName, "invalid spreadsheet", err)
		}
		out.BytesRead = counter.BytesRead
		src = &sliceSource{rows: rows}
	} else {
		input = WrapForStreaming(r)
		src = newCSVSource(input)
	}

	if err := parseRecords(src, out); err != nil {
		return nil, classifyReadError(fileName, err)
	}

	if input != nil {
		out.BytesRead = input.BytesRead
		if n := input.Replaced(); n > 0 {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("%d invalid UTF-8 byte(s) were replaced with '?'; save the file as UTF-8 to keep accented characters", n))
		}
	}
	return out, nil
}

func classifyReadError(fileName string, err error) error {
	var fe *FileError
	switch {
	case errors.As(err, &fe):
		if fe.FileName == "" {
			fe.FileName = fileName
		}
		return fe
	case errors.Is(err, ErrUnsupportedEncoding):
		return newFileError(fileName, "encoding error", err)
	}
	return newFileError(fileName, "invalid csv", err)
}

// rowParser holds the per-file state derived from the header.
type rowParser struct {
	strategy  MatchStrategy
	header    HeaderIndex
	headerRow int
	present   []FieldSpec
	missing   []string
}

func parseRecords(src recordSource, out *ParseOutput) error {
	var p *rowParser

	for {
		rec, err := src.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if p != nil {
			for n := rec.row - rec.blanks; n < rec.row; n++ {
				p.warnBlank(out, n)
			}
		}
		if isBlankRecord(rec.fields) {
			if p != nil {
				p.warnBlank(out, rec.row)
			}
			continue
		}

		if p == nil {
			p, err = newRowParser(rec, out)
			if err != nil {
				return err
			}
			continue
		}

		out.Rows = append(out.Rows, p.parseRow(rec))
	}

	if p == nil {
		return newFileError("", "no header row", nil)
	}
	return nil
}

func newRowParser(rec record, out *ParseOutput) (*rowParser, error) {
	p := &rowParser{
		strategy:  out.Strategy,
		header:    MakeHeaderIndex(rec.fields),
		headerRow: rec.row,
	}

	seen := make(map[string]bool, len(rec.fields))
	for _, h := range rec.fields {
		raw := cleanHeader(h)
		key := normalizeHeader(raw)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := LookupField(key); ok {
			out.Columns = append(out.Columns, key)
		} else {
			out.Warnings = append(out.Warnings, fmt.Sprintf("unrecognized column %q ignored", raw))
		}
	}
	if len(out.Columns) == 0 {
		return nil, newFileError("", "no recognized columns in header",
			fmt.Errorf("expected %s", strings.Join(RequiredColumns(out.Strategy), ", ")))
	}

	for _, f := range fieldSpecs {
		if p.header.Has(f.Name) {
			p.present = append(p.present, f)
		} else if f.RequiredBy(p.strategy) {
			p.missing = append(p.missing, f.Name)
		}
	}
	if p.strategy == MatchByName && !p.header.Has(ColName) &&
		!(p.header.Has(ColFirstName) && p.header.Has(ColLastName)) {
		p.missing = append(p.missing, ColName)
	}
	for _, col := range p.missing {
		out.Warnings = append(out.Warnings, fmt.Sprintf("missing required column %q; every row is flagged", col))
	}
	return p, nil
}

func (p *rowParser) parseRow(rec record) ParsedRow {
	row := ParsedRow{
		RowNumber: rec.row - p.headerRow,
		Errors:    []string{},
	}

	for _, col := range p.missing {
		row.addError("missing required column %q", col)
	}

	for _, f := range p.present {
		v := p.header.Get(rec.fields, f.Name)
		if v == "" {
			if f.RequiredBy(p.strategy) {
				row.addError("%s is empty", f.Name)
			}
			continue
		}
		if err := f.set(&row, v); err != nil {
			row.addError("%s: %v", f.Name, err)
		}
	}

	if row.Name == "" && (row.FirstName != "" || row.LastName != "") {
		row.Name = collapseSpaces(row.FirstName + " " + row.LastName)
	}
	if p.strategy == MatchByName && row.Name == "" && !slices.Contains(p.missing, ColName) {
		row.addError("%s is empty", ColName)
	}

	if row.CompletionDate != nil && row.ExpirationDate != nil && row.ExpirationDate.Before(*row.CompletionDate) {
		row.addError("%s", errExpiryBeforeEnd.Error())
	}
	return row
}

func (p *rowParser) warnBlank(out *ParseOutput, row int) {
	out.Warnings = append(out.Warnings, fmt.Sprintf("row %d: blank row skipped", row-p.headerRow))
}

func isBlankRecord(fields []string) bool {
	for _, f := range fields {
		if CleanCell(f) != "" {
			return false
		}
	}
	return true
}

func setDate(dst **time.Time, raw string) error {
	t, ok := ToDate(raw)
	if !ok {
		return fmt.Errorf("invalid date %q (use YYYY-MM-DD)", raw)
	}
	*dst = &t
	return nil
}

func setDecimal(dst *decimal.NullDecimal, raw string, nonNegative bool) error {
	d, ok := ToDecimal(raw)
	if !ok {
		return fmt.Errorf("invalid number %q", raw)
	}
	if nonNegative && d.IsNegative() {
		return errNegativeNumber
	}
	*dst = decimal.NullDecimal{Decimal: d, Valid: true}
	return nil
}
