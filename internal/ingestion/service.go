// Package ingestion bulk-imports books from tabular files. Each row becomes
// one book with a single initial content; rows that fail to parse are skipped
// and reported, never aborting the rest of the file.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/openshelf/catalogd/internal/domain"
	"github.com/openshelf/catalogd/internal/library"
)

// ErrUnsupportedFormat is returned when an uploaded file is not supported.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Recognized column headers after sanitization. title and file_key are
// required; the rest are optional.
const (
	columnTitle       = "title"
	columnAuthors     = "authors"
	columnTags        = "tags"
	columnContentName = "content_name"
	columnFileKey     = "file_key"
	columnPageCount   = "page_count"
)

// Service imports books through the catalog service so every imported row
// gets a creation record like any other commit.
type Service struct {
	catalog *library.Service
}

// NewService creates a new import service.
func NewService(catalog *library.Service) *Service {
	return &Service{catalog: catalog}
}

// Request describes the import input.
type Request struct {
	FileName       string
	HeaderRowIndex *int
	Reason         string
	Data           io.Reader
}

// RowError reports why one row was skipped.
type RowError struct {
	RowNumber int    `json:"rowNumber"`
	Message   string `json:"message"`
}

// Summary returns import level metrics.
type Summary struct {
	TotalRows    int         `json:"totalRows"`
	ImportedRows int         `json:"importedRows"`
	SkippedRows  int         `json:"skippedRows"`
	Errors       []RowError  `json:"errors,omitempty"`
	BookIDs      []uuid.UUID `json:"bookIds"`
}

type tableData struct {
	headers        []string
	rows           [][]string
	headerRowIndex int
}

// Import reads the uploaded file and creates one book per row.
func (s *Service) Import(ctx context.Context, actor domain.Actor, req Request) (Summary, error) {
	summary := Summary{Errors: []RowError{}, BookIDs: []uuid.UUID{}}

	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	table, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return summary, err
	}
	if len(table.headers) == 0 {
		return summary, errors.New("no header row detected")
	}

	columns := map[string]int{}
	for idx, header := range table.headers {
		columns[header] = idx
	}
	if _, ok := columns[columnTitle]; !ok {
		return summary, fmt.Errorf("missing required column %q", columnTitle)
	}
	if _, ok := columns[columnFileKey]; !ok {
		return summary, fmt.Errorf("missing required column %q", columnFileKey)
	}

	summary.TotalRows = len(table.rows)
	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("bulk import from %s", filepath.Base(req.FileName))
	}

	for rowIdx, row := range table.rows {
		rowNumber := table.headerRowIndex + rowIdx + 2 // include header row (1-based)

		book, rowErr := rowToBook(columns, row)
		if rowErr != nil {
			summary.SkippedRows++
			summary.Errors = append(summary.Errors, RowError{RowNumber: rowNumber, Message: rowErr.Error()})
			continue
		}

		created, err := s.catalog.CreateBook(ctx, book.title, book.authors, book.tags, book.contents, actor, reason)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			summary.SkippedRows++
			summary.Errors = append(summary.Errors, RowError{RowNumber: rowNumber, Message: err.Error()})
			continue
		}
		summary.ImportedRows++
		summary.BookIDs = append(summary.BookIDs, created.ID)
	}

	return summary, nil
}

type bookRow struct {
	title    string
	authors  []string
	tags     []string
	contents []domain.BookContent
}

func rowToBook(columns map[string]int, row []string) (bookRow, error) {
	cell := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	title := cell(columnTitle)
	if title == "" {
		return bookRow{}, errors.New("title is required")
	}
	fileKey := cell(columnFileKey)
	if fileKey == "" {
		return bookRow{}, errors.New("file_key is required")
	}

	contentName := cell(columnContentName)
	if contentName == "" {
		contentName = title
	}
	pageCount := 0
	if raw := cell(columnPageCount); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return bookRow{}, fmt.Errorf("invalid page_count %q", raw)
		}
		pageCount = parsed
	}

	return bookRow{
		title:    title,
		authors:  splitList(cell(columnAuthors)),
		tags:     splitList(cell(columnTags)),
		contents: []domain.BookContent{domain.NewBookContent(contentName, fileKey, pageCount)},
	}, nil
}

// splitList splits a multi-value cell on semicolons.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows, headerRowIndex)
}

func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	headerIndex := -1

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if len(cleanRow(records[*headerRowIndex])) == 0 {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		headerIndex = *headerRowIndex
		dataRows = append(dataRows, records[*headerRowIndex+1:]...)
	} else {
		for idx, row := range records {
			if len(cleanRow(row)) == 0 {
				continue
			}
			if headerRow == nil {
				headerRow = row
				headerIndex = idx
				continue
			}
			dataRows = append(dataRows, row)
		}
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}
	dataRows = filterEmptyRows(dataRows)

	return tableData{
		headers:        headers,
		rows:           dataRows,
		headerRowIndex: headerIndex,
	}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func filterEmptyRows(rows [][]string) [][]string {
	var filtered [][]string
	for _, row := range rows {
		if len(cleanRow(row)) > 0 {
			filtered = append(filtered, row)
		}
	}
	return filtered
}
