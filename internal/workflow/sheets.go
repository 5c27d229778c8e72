package workflow

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"github.com/zulandar/csmportal/internal/session"
)

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}

// CheckCSVColumns verifies that data is a CSV whose header has every required
// column (case-insensitive) and at least one data row. This is a courtesy;
// the backend does the real validation.
func CheckCSVColumns(data []byte, required []string) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return invalid("Choose a CSV file to upload.")
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return invalid(fmt.Sprintf("Could not read the CSV header: %v", err))
	}

	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[normalizeHeader(h)] = true
	}
	var missing []string
	for _, col := range required {
		if !have[normalizeHeader(col)] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return invalid("Missing required columns: " + strings.Join(missing, ", "))
	}

	if _, err := r.Read(); errors.Is(err, io.EOF) {
		return invalid("The CSV file has no data rows.")
	} else if err != nil {
		return invalid(fmt.Sprintf("Could not read the CSV: %v", err))
	}
	return nil
}

// sheet is the first worksheet of an uploaded workbook.
type sheet struct {
	header []string
	rows   [][]string
	// numbers holds the raw value of every data cell stored as a number,
	// keyed by row and column index into rows.
	numbers map[[2]int]string
}

// readFirstSheet returns the trimmed header and data rows of the workbook's
// first sheet.
func readFirstSheet(data []byte) (*sheet, error) {
	if len(data) == 0 {
		return nil, invalid("Choose an Excel file to upload.")
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, invalid(fmt.Sprintf("Could not open the Excel file: %v", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, invalid("The Excel file has no sheets.")
	}
	name := sheets[0]
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, invalid(fmt.Sprintf("Could not read sheet %q: %v", name, err))
	}
	if len(rows) == 0 {
		return nil, invalid("The Excel file is empty.")
	}

	s := &sheet{
		header:  make([]string, len(rows[0])),
		rows:    rows[1:],
		numbers: make(map[[2]int]string),
	}
	for i, h := range rows[0] {
		s.header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	for r, row := range s.rows {
		for c, v := range row {
			if strings.TrimSpace(v) == "" {
				continue
			}
			ref, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("workflow: cell reference: %w", err)
			}
			typ, err := f.GetCellType(name, ref)
			if err != nil {
				return nil, invalid(fmt.Sprintf("Could not read cell %s: %v", ref, err))
			}
			// Numbers are written with no type or an explicit "n".
			if typ != excelize.CellTypeUnset && typ != excelize.CellTypeNumber {
				continue
			}
			raw, err := f.GetCellValue(name, ref, excelize.Options{RawCellValue: true})
			if err != nil {
				return nil, invalid(fmt.Sprintf("Could not read cell %s: %v", ref, err))
			}
			s.numbers[[2]int{r, c}] = raw
		}
	}
	return s, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ReadRankWorkbook reads initiativename and rank columns from the first
// sheet. Blank rows are skipped; rank parsing is left to ParseRanks.
func ReadRankWorkbook(data []byte) ([]session.RankEdit, error) {
	s, err := readFirstSheet(data)
	if err != nil {
		return nil, err
	}
	nameCol, rankCol := -1, -1
	for i, h := range s.header {
		switch normalizeHeader(h) {
		case "initiativename":
			nameCol = i
		case "rank":
			rankCol = i
		}
	}
	var missing []string
	if nameCol < 0 {
		missing = append(missing, "initiativename")
	}
	if rankCol < 0 {
		missing = append(missing, "rank")
	}
	if len(missing) > 0 {
		return nil, invalid("Missing required columns: " + strings.Join(missing, ", "))
	}

	var edits []session.RankEdit
	for _, row := range s.rows {
		if blank(row) {
			continue
		}
		edits = append(edits, session.RankEdit{InitiativeName: cell(row, nameCol), Rank: cell(row, rankCol)})
	}
	return edits, nil
}

// ReadRecommendationRows turns the first sheet into one map per non-blank row
// keyed by header. Cells stored as numbers are sent as numbers, empty cells
// as null and everything else as text, so "00123" typed as text arrives
// unchanged.
func ReadRecommendationRows(data []byte) ([]map[string]any, error) {
	s, err := readFirstSheet(data)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for r, row := range s.rows {
		if blank(row) {
			continue
		}
		m := make(map[string]any, len(s.header))
		for c, h := range s.header {
			if h == "" {
				continue
			}
			m[h] = s.value(r, c)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, invalid("The Excel file has no data rows.")
	}
	return out, nil
}

// value converts one data cell to its JSON form.
func (s *sheet) value(r, c int) any {
	if raw, ok := s.numbers[[2]int{r, c}]; ok {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	if v := cell(s.rows[r], c); v != "" {
		return v
	}
	return nil
}
