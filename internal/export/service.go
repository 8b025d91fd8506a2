// Package export writes filtered history records to downloadable files, for
// audit reviews and offline diffing.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/openshelf/catalogd/internal/catalog"
	"github.com/openshelf/catalogd/internal/domain"
)

// Format selects the output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a wire string.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(raw)) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", raw)
}

// Service pages history records out of the log and streams them to files
// under a private export directory.
type Service struct {
	history   *catalog.HistoryLog
	exportDir string
	pageSize  int
	now       func() time.Time
}

// Option customizes the service.
type Option func(*Service)

// WithExportDirectory overrides the directory export files land in.
func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

// WithPageSize overrides how many records are fetched per search page.
func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// NewService wires an export service over the history log.
func NewService(history *catalog.HistoryLog, opts ...Option) *Service {
	service := &Service{
		history:   history,
		exportDir: filepath.Join(os.TempDir(), "catalogd-exports"),
		pageSize:  1000,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Directory reports where export files are written.
func (s *Service) Directory() string { return s.exportDir }

// Request describes one export run.
type Request struct {
	Filter domain.SnapshotFilter
	Format Format
}

// Summary reports the outcome of an export run.
type Summary struct {
	FileName string
	Records  int
}

var historyHeader = []string{
	"record_id", "created_time", "event_type", "actor_class", "actor_id",
	"target_type", "target_id", "target_version", "rollback_of_id", "reason", "value",
}

// ExportHistory writes every record matching the filter, oldest first, and
// returns the generated file name.
func (s *Service) ExportHistory(ctx context.Context, req Request) (Summary, error) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create export directory: %w", err)
	}

	sortBy := domain.SnapshotSort{Field: domain.SnapshotSortFieldCreatedTime, Direction: domain.SortDirectionAsc}
	switch req.Format {
	case FormatXLSX:
		return s.exportXLSX(ctx, req.Filter, sortBy)
	default:
		return s.exportCSV(ctx, req.Filter, sortBy)
	}
}

func (s *Service) exportCSV(ctx context.Context, filter domain.SnapshotFilter, sortBy domain.SnapshotSort) (Summary, error) {
	tempFile, err := os.CreateTemp(s.exportDir, fmt.Sprintf("history-%d-*.csv", s.now().UnixMilli()))
	if err != nil {
		return Summary{}, fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	buffered := bufio.NewWriterSize(tempFile, 1<<20)
	csvWriter := csv.NewWriter(buffered)
	if err := csvWriter.Write(historyHeader); err != nil {
		return Summary{}, fmt.Errorf("write header: %w", err)
	}

	records := 0
	err = s.eachSnapshot(ctx, filter, sortBy, func(snapshot domain.Snapshot) error {
		records++
		return csvWriter.Write(historyRow(snapshot))
	})
	if err != nil {
		return Summary{}, err
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return Summary{}, fmt.Errorf("flush export rows: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return Summary{}, fmt.Errorf("flush export file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return Summary{}, fmt.Errorf("close export file: %w", err)
	}
	cleanup = false
	return Summary{FileName: filepath.Base(tempPath), Records: records}, nil
}

func (s *Service) exportXLSX(ctx context.Context, filter domain.SnapshotFilter, sortBy domain.SnapshotSort) (Summary, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return Summary{}, fmt.Errorf("open stream writer: %w", err)
	}

	header := make([]interface{}, len(historyHeader))
	for i, name := range historyHeader {
		header[i] = name
	}
	if err := stream.SetRow("A1", header); err != nil {
		return Summary{}, fmt.Errorf("write header: %w", err)
	}

	records := 0
	err = s.eachSnapshot(ctx, filter, sortBy, func(snapshot domain.Snapshot) error {
		records++
		cell, err := excelize.CoordinatesToCellName(1, records+1)
		if err != nil {
			return err
		}
		values := historyRow(snapshot)
		row := make([]interface{}, len(values))
		for i, value := range values {
			row[i] = value
		}
		return stream.SetRow(cell, row)
	})
	if err != nil {
		return Summary{}, err
	}
	if err := stream.Flush(); err != nil {
		return Summary{}, fmt.Errorf("flush sheet: %w", err)
	}

	tempFile, err := os.CreateTemp(s.exportDir, fmt.Sprintf("history-%d-*.xlsx", s.now().UnixMilli()))
	if err != nil {
		return Summary{}, fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	_ = tempFile.Close()
	if err := f.SaveAs(tempPath); err != nil {
		_ = os.Remove(tempPath)
		return Summary{}, fmt.Errorf("save workbook: %w", err)
	}
	return Summary{FileName: filepath.Base(tempPath), Records: records}, nil
}

func (s *Service) eachSnapshot(ctx context.Context, filter domain.SnapshotFilter, sortBy domain.SnapshotSort, fn func(domain.Snapshot) error) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		snapshots, total, err := s.history.Search(ctx, filter, sortBy, domain.Page{Offset: offset, Limit: s.pageSize})
		if err != nil {
			return fmt.Errorf("search history: %w", err)
		}
		for _, snapshot := range snapshots {
			if err := fn(snapshot); err != nil {
				return fmt.Errorf("write record %s: %w", snapshot.ID, err)
			}
		}
		offset += len(snapshots)
		if offset >= total || len(snapshots) == 0 {
			return nil
		}
	}
}

func historyRow(snapshot domain.Snapshot) []string {
	actorID := ""
	if snapshot.ActorID != nil {
		actorID = snapshot.ActorID.String()
	}
	rollbackOf := ""
	if snapshot.RollbackOfID != nil {
		rollbackOf = snapshot.RollbackOfID.String()
	}
	value := ""
	if snapshot.HasValue() {
		value = string(snapshot.Value)
	}
	return []string{
		snapshot.ID.String(),
		snapshot.CreatedTime.UTC().Format(time.RFC3339Nano),
		string(snapshot.EventType),
		string(snapshot.ActorClass),
		actorID,
		string(snapshot.TargetType),
		snapshot.TargetID.String(),
		strconv.FormatInt(snapshot.TargetVersion, 10),
		rollbackOf,
		snapshot.Reason,
		value,
	}
}
