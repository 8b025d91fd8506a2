package export

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/domain"
)

// Handler exposes history exports over plain HTTP. POST runs an export and
// returns the generated file name; GET .../files/{name} downloads it.
type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/files/"):
		h.handleDownload(w, r)
	case r.Method == http.MethodPost:
		h.handleExport(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type exportPayload struct {
	TargetType   string  `json:"targetType"`
	TargetID     *string `json:"targetId"`
	ActorID      *string `json:"actorId"`
	EventType    string  `json:"eventType"`
	ActorClass   string  `json:"actorClass"`
	RollbackOfID *string `json:"rollbackOfId"`
	CreatedAfter *string `json:"createdAfter"`
	CreatedUntil *string `json:"createdUntil"`
	ReasonSubstr *string `json:"reason"`
	Format       string  `json:"format"`
}

type exportResponse struct {
	FileName string `json:"fileName"`
	Records  int    `json:"records"`
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload exportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	filter, err := toSnapshotFilter(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	format, err := ParseFormat(payload.Format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.service.ExportHistory(r.Context(), Request{Filter: filter, Format: format})
	if err != nil {
		http.Error(w, fmt.Sprintf("export failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{FileName: summary.FileName, Records: summary.Records})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	idx := strings.LastIndex(path, "/")
	if idx == -1 || idx == len(path)-1 {
		http.Error(w, "missing file name", http.StatusBadRequest)
		return
	}
	// Base strips any traversal the client smuggled into the segment.
	name := filepath.Base(path[idx+1:])
	if name == "." || name == ".." || (!strings.HasSuffix(name, ".csv") && !strings.HasSuffix(name, ".xlsx")) {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}

	fullPath := filepath.Join(h.service.Directory(), name)
	file, err := os.Open(fullPath)
	if err != nil {
		http.Error(w, "export file not found", http.StatusNotFound)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		http.Error(w, "export file not found", http.StatusNotFound)
		return
	}

	contentType := "text/csv"
	if strings.HasSuffix(name, ".xlsx") {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func toSnapshotFilter(payload exportPayload) (domain.SnapshotFilter, error) {
	var filter domain.SnapshotFilter
	if raw := strings.TrimSpace(payload.TargetType); raw != "" {
		targetType, err := domain.ParseTargetType(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid targetType: %w", err)
		}
		filter.TargetType = targetType
	}
	if payload.TargetID != nil {
		id, err := uuid.Parse(strings.TrimSpace(*payload.TargetID))
		if err != nil {
			return filter, fmt.Errorf("invalid targetId: %w", err)
		}
		filter.TargetID = &id
	}
	if payload.ActorID != nil {
		id, err := uuid.Parse(strings.TrimSpace(*payload.ActorID))
		if err != nil {
			return filter, fmt.Errorf("invalid actorId: %w", err)
		}
		filter.ActorID = &id
	}
	if raw := strings.TrimSpace(payload.EventType); raw != "" {
		eventType, err := domain.ParseEventType(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid eventType: %w", err)
		}
		filter.EventType = eventType
	}
	if raw := strings.TrimSpace(payload.ActorClass); raw != "" {
		actorClass, err := domain.ParseActorClass(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid actorClass: %w", err)
		}
		filter.ActorClass = actorClass
	}
	if payload.RollbackOfID != nil {
		id, err := uuid.Parse(strings.TrimSpace(*payload.RollbackOfID))
		if err != nil {
			return filter, fmt.Errorf("invalid rollbackOfId: %w", err)
		}
		filter.RollbackOfID = &id
	}
	if payload.CreatedAfter != nil {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.CreatedAfter))
		if err != nil {
			return filter, fmt.Errorf("invalid createdAfter: %w", err)
		}
		filter.CreatedAfter = &at
	}
	if payload.CreatedUntil != nil {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.CreatedUntil))
		if err != nil {
			return filter, fmt.Errorf("invalid createdUntil: %w", err)
		}
		filter.CreatedUntil = &at
	}
	if payload.ReasonSubstr != nil {
		filter.ReasonSubstr = strings.TrimSpace(*payload.ReasonSubstr)
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
