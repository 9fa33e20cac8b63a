package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// ParseSpreadsheet reads a single-sheet workbook whose header row names a
// "department" column and optionally "document", "description",
// "required", "file types" and "max file size". Rows are grouped by
// department in first-seen order.
func ParseSpreadsheet(r io.Reader, filename string) (*Catalog, error) {
	rows, err := readRows(r, filename)
	if err != nil {
		return nil, err
	}
	header := rows[0]
	col := func(names ...string) int {
		for idx, h := range header {
			normalized := normalizeHeader(h)
			for _, name := range names {
				if normalized == name {
					return idx
				}
			}
		}
		return -1
	}
	deptIdx := col("department", "department name")
	if deptIdx < 0 {
		return nil, errors.New(`spreadsheet header must include a "department" column`)
	}
	docIdx := col("document", "document title", "title")
	descIdx := col("description", "document description")
	reqIdx := col("required")
	typesIdx := col("file types", "filetypes", "file type")
	sizeIdx := col("max file size", "max file size (mb)", "maxfilesize")

	c := &Catalog{}
	index := map[string]int{}
	for n, row := range rows[1:] {
		name := cellValue(row, deptIdx)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		pos, ok := index[key]
		if !ok {
			c.Departments = append(c.Departments, Department{Name: name})
			pos = len(c.Departments) - 1
			index[key] = pos
		}
		title := cellValue(row, docIdx)
		if title == "" {
			continue
		}
		maxSize := 0
		if raw := cellValue(row, sizeIdx); raw != "" {
			size, err := parseMaxSize(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid max file size %q", n+2, raw)
			}
			maxSize = size
		}
		c.Departments[pos].Documents = append(c.Departments[pos].Documents, Document{
			Title:       title,
			Description: cellValue(row, descIdx),
			FileTypes:   splitFileTypes(cellValue(row, typesIdx)),
			MaxFileSize: maxSize,
			Required:    parseBool(cellValue(row, reqIdx)),
		})
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return c, nil
}

// parseMaxSize reads a size cell such as "5", "5MB" or "10 mb".
func parseMaxSize(raw string) (int, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "mb"))
	size, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, err
	}
	if size < 0 {
		return 0, fmt.Errorf("negative size %d", size)
	}
	return size, nil
}

func readRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".xls", ".xsl":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, err
		}
		if workbook.NumSheets() == 0 {
			return nil, fmt.Errorf("no worksheet found")
		}
		if workbook.NumSheets() > 1 {
			return nil, fmt.Errorf("multiple worksheets found; please upload a file with a single sheet")
		}
		rows := workbook.ReadAllCells(100000)
		if len(rows) == 0 {
			return nil, fmt.Errorf("worksheet is empty")
		}
		return rows, nil
	default:
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, fmt.Errorf("no worksheet found")
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("worksheet is empty")
		}
		return rows, nil
	}
}

func normalizeHeader(header string) string {
	return strings.Join(strings.Fields(strings.ToLower(header)), " ")
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func splitFileTypes(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '/'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p)), ".")
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "x", "required":
		return true
	default:
		return false
	}
}
