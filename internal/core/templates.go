package core

import (
	"encoding/csv"
	"io"
)

// WriteTemplateCSV writes a blank import template for strategy: the header
// row followed by one example row.
func WriteTemplateCSV(w io.Writer, strategy MatchStrategy) error {
	if !strategy.Valid() {
		return &invalidStrategyError{value: string(strategy)}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(TemplateColumns(strategy)); err != nil {
		return err
	}
	if err := cw.Write(TemplateExample(strategy)); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
