package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/openshelf/catalogd/internal/catalog"
	"github.com/openshelf/catalogd/internal/docstore"
	"github.com/openshelf/catalogd/internal/domain"
	"github.com/openshelf/catalogd/internal/library"
)

func seedHistory(t *testing.T) *catalog.HistoryLog {
	t.Helper()
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	history := catalog.NewHistoryLog(store)
	service := library.NewService(catalog.NewRepository(store, history))

	user, err := service.CreateUser(ctx, "exported", "", "member", domain.SystemActor, "seed")
	if err != nil {
		t.Fatalf("create returned error: %v", err)
	}
	if _, err := service.RenameUser(ctx, user.ID, "exported-v2", domain.SystemActor, "rename"); err != nil {
		t.Fatalf("rename returned error: %v", err)
	}
	if err := service.DeleteUser(ctx, user.ID, domain.SystemActor, "cleanup"); err != nil {
		t.Fatalf("delete returned error: %v", err)
	}
	return history
}

func TestExportHistoryCSV(t *testing.T) {
	history := seedHistory(t)
	dir := t.TempDir()
	service := NewService(history, WithExportDirectory(dir), WithPageSize(2))

	summary, err := service.ExportHistory(context.Background(), Request{Format: FormatCSV})
	if err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	if summary.Records != 3 {
		t.Fatalf("expected 3 exported records, got %d", summary.Records)
	}
	if !strings.HasSuffix(summary.FileName, ".csv") {
		t.Fatalf("expected a csv file name, got %s", summary.FileName)
	}

	file, err := os.Open(filepath.Join(dir, summary.FileName))
	if err != nil {
		t.Fatalf("open export returned error: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read export returned error: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "record_id" || rows[0][2] != "event_type" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	// Oldest first.
	if rows[1][2] != string(domain.EventTypeCreation) || rows[3][2] != string(domain.EventTypeDeletion) {
		t.Fatalf("expected creation first and deletion last, got %v / %v", rows[1][2], rows[3][2])
	}
	// Deletion rows carry no value.
	if rows[3][10] != "" {
		t.Fatalf("tombstone row must have an empty value column, got %q", rows[3][10])
	}
	if rows[1][10] == "" {
		t.Fatalf("creation row must carry the stored value")
	}
}

func TestExportHistoryXLSX(t *testing.T) {
	history := seedHistory(t)
	dir := t.TempDir()
	service := NewService(history, WithExportDirectory(dir))

	summary, err := service.ExportHistory(context.Background(), Request{Format: FormatXLSX})
	if err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	if summary.Records != 3 || !strings.HasSuffix(summary.FileName, ".xlsx") {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	f, err := excelize.OpenFile(filepath.Join(dir, summary.FileName))
	if err != nil {
		t.Fatalf("open workbook returned error: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows returned error: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "record_id" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
}

func TestExportHistoryAppliesFilter(t *testing.T) {
	history := seedHistory(t)
	dir := t.TempDir()
	service := NewService(history, WithExportDirectory(dir))

	summary, err := service.ExportHistory(context.Background(), Request{
		Filter: domain.SnapshotFilter{EventType: domain.EventTypeDeletion},
		Format: FormatCSV,
	})
	if err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	if summary.Records != 1 {
		t.Fatalf("expected 1 deletion record, got %d", summary.Records)
	}
}

func TestParseFormat(t *testing.T) {
	if format, err := ParseFormat(""); err != nil || format != FormatCSV {
		t.Fatalf("blank format must default to csv, got %v %v", format, err)
	}
	if format, err := ParseFormat("XLSX"); err != nil || format != FormatXLSX {
		t.Fatalf("format parsing must be case-insensitive, got %v %v", format, err)
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
