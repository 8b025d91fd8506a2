// Package api exposes the catalog over a plain JSON HTTP surface: CRUD per
// target type, history search and rollback.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/auth"
	"github.com/openshelf/catalogd/internal/catalog"
	"github.com/openshelf/catalogd/internal/domain"
	"github.com/openshelf/catalogd/internal/library"
)

// Handler routes catalog requests. Mount it with the prefix stripped so paths
// start at the target type segment, e.g. /books/{id}/contents.
type Handler struct {
	service *library.Service
}

func NewHTTPHandler(service *library.Service) http.Handler {
	return &Handler{service: service}
}

var targetTypeSegments = map[string]domain.TargetType{
	"books":       domain.TargetTypeBook,
	"users":       domain.TargetTypeUser,
	"images":      domain.TargetTypeImage,
	"collections": domain.TargetTypeCollection,
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := splitPath(r.URL.Path)
	if len(segments) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if segments[0] == "history" {
		h.serveHistory(w, r, segments[1:])
		return
	}

	targetType, ok := targetTypeSegments[segments[0]]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown target type %q", segments[0]), http.StatusNotFound)
		return
	}

	if len(segments) == 1 {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleCreate(w, r, targetType)
		return
	}

	id, err := uuid.Parse(segments[1])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid id: %v", err), http.StatusBadRequest)
		return
	}

	if len(segments) == 2 {
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, targetType, id)
		case http.MethodPatch:
			h.handlePatch(w, r, targetType, id)
		case http.MethodDelete:
			h.handleDelete(w, r, targetType, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch segments[2] {
	case "history":
		h.handleTargetHistory(w, r, targetType, id)
	case "rollback":
		h.handleRollback(w, r, targetType, id)
	case "contents":
		h.handleBookContents(w, r, targetType, id, segments[3:])
	case "books":
		h.handleCollectionBooks(w, r, targetType, id, segments[3:])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- creation ---

type contentPayload struct {
	Name      string `json:"name"`
	FileKey   string `json:"fileKey"`
	PageCount int    `json:"pageCount"`
}

type createBookPayload struct {
	Title    string           `json:"title"`
	Authors  []string         `json:"authors"`
	Tags     []string         `json:"tags"`
	Contents []contentPayload `json:"contents"`
	Reason   string           `json:"reason"`
}

type createUserPayload struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Reason      string `json:"reason"`
}

type createImagePayload struct {
	Title   string `json:"title"`
	FileKey string `json:"fileKey"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Reason  string `json:"reason"`
}

type createCollectionPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, targetType domain.TargetType) {
	defer r.Body.Close()
	ctx := r.Context()
	actor := auth.ActorOrSystem(ctx)

	switch targetType {
	case domain.TargetTypeBook:
		var payload createBookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
		contents := make([]domain.BookContent, 0, len(payload.Contents))
		for _, content := range payload.Contents {
			contents = append(contents, domain.NewBookContent(content.Name, content.FileKey, content.PageCount))
		}
		book, err := h.service.CreateBook(ctx, payload.Title, payload.Authors, payload.Tags, contents, actor, payload.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	case domain.TargetTypeUser:
		var payload createUserPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
		user, err := h.service.CreateUser(ctx, payload.Name, payload.DisplayName, payload.Role, actor, payload.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	case domain.TargetTypeImage:
		var payload createImagePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
		image, err := h.service.CreateImage(ctx, payload.Title, payload.FileKey, payload.Width, payload.Height, actor, payload.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, image)
	case domain.TargetTypeCollection:
		var payload createCollectionPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
		collection, err := h.service.CreateCollection(ctx, payload.Name, payload.Description, actor, payload.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, collection)
	}
}

// --- reads ---

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, targetType domain.TargetType, id uuid.UUID) {
	ctx := r.Context()
	var (
		target domain.Target
		err    error
	)
	switch targetType {
	case domain.TargetTypeBook:
		target, err = h.service.GetBook(ctx, id)
	case domain.TargetTypeUser:
		target, err = h.service.GetUser(ctx, id)
	case domain.TargetTypeImage:
		target, err = h.service.GetImage(ctx, id)
	case domain.TargetTypeCollection:
		target, err = h.service.GetCollection(ctx, id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// --- updates ---

type patchBookPayload struct {
	Title   *string  `json:"title"`
	Authors []string `json:"authors"`
	Tags    []string `json:"tags"`
	Reason  string   `json:"reason"`
}

type patchUserPayload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type patchImagePayload struct {
	Tags   []string `json:"tags"`
	Reason string   `json:"reason"`
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request, targetType domain.TargetType, id uuid.UUID) {
	defer r.Body.Close()
	ctx := r.Context()
	actor := auth.ActorOrSystem(ctx)

	switch targetType {
	case domain.TargetTypeBook:
		var payload patchBookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
		book, err := h.service.UpdateBookDetails(ctx, id, payload.Title, payload.Authors, payload.Tags, actor, payload.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case domain.TargetTypeUser:
		var payload patchUserPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
		user, err := h.service.RenameUser(ctx, id, payload.Name, actor, payload.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case domain.TargetTypeImage:
		var payload patchImagePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
		image, err := h.service.RetagImage(ctx, id, payload.Tags, actor, payload.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, image)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, targetType domain.TargetType, id uuid.UUID) {
	ctx := r.Context()
	actor := auth.ActorOrSystem(ctx)
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))

	var err error
	switch targetType {
	case domain.TargetTypeBook:
		err = h.service.DeleteBook(ctx, id, actor, reason)
	case domain.TargetTypeUser:
		err = h.service.DeleteUser(ctx, id, actor, reason)
	case domain.TargetTypeImage:
		err = h.service.DeleteImage(ctx, id, actor, reason)
	case domain.TargetTypeCollection:
		err = h.service.DeleteCollection(ctx, id, actor, reason)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- book contents ---

type addContentPayload struct {
	Name      string `json:"name"`
	FileKey   string `json:"fileKey"`
	PageCount int    `json:"pageCount"`
	Reason    string `json:"reason"`
}

func (h *Handler) handleBookContents(w http.ResponseWriter, r *http.Request, targetType domain.TargetType, bookID uuid.UUID, rest []string) {
	if targetType != domain.TargetTypeBook {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	ctx := r.Context()
	actor := auth.ActorOrSystem(ctx)

	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		defer r.Body.Close()
		var payload addContentPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
		content := domain.NewBookContent(payload.Name, payload.FileKey, payload.PageCount)
		book, err := h.service.AddBookContent(ctx, bookID, content, actor, payload.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case r.Method == http.MethodDelete && len(rest) == 1:
		contentID, err := uuid.Parse(rest[0])
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid content id: %v", err), http.StatusBadRequest)
			return
		}
		reason := strings.TrimSpace(r.URL.Query().Get("reason"))
		book, err := h.service.RemoveBookContent(ctx, bookID, contentID, actor, reason)
		if err != nil {
			writeError(w, err)
			return
		}
		if book == nil {
			// Last content removed; the book went with it.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, book)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- collection membership ---

type addCollectionBookPayload struct {
	BookID string `json:"bookId"`
	Reason string `json:"reason"`
}

func (h *Handler) handleCollectionBooks(w http.ResponseWriter, r *http.Request, targetType domain.TargetType, collectionID uuid.UUID, rest []string) {
	if targetType != domain.TargetTypeCollection {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	ctx := r.Context()
	actor := auth.ActorOrSystem(ctx)

	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		defer r.Body.Close()
		var payload addCollectionBookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
		bookID, err := uuid.Parse(strings.TrimSpace(payload.BookID))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid bookId: %v", err), http.StatusBadRequest)
			return
		}
		collection, err := h.service.AddBookToCollection(ctx, collectionID, bookID, actor, payload.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, collection)
	case r.Method == http.MethodDelete && len(rest) == 1:
		bookID, err := uuid.Parse(rest[0])
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid book id: %v", err), http.StatusBadRequest)
			return
		}
		reason := strings.TrimSpace(r.URL.Query().Get("reason"))
		collection, err := h.service.RemoveBookFromCollection(ctx, collectionID, bookID, actor, reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, collection)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- history ---

type historyPage struct {
	Records []domain.Snapshot `json:"records"`
	Total   int               `json:"total"`
}

func (h *Handler) serveHistory(w http.ResponseWriter, r *http.Request, rest []string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	switch len(rest) {
	case 0:
		filter, sortBy, page, err := parseHistoryQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, total, err := h.service.History(ctx, filter, sortBy, page)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, historyPage{Records: records, Total: total})
	case 1, 2:
		recordID, err := uuid.Parse(rest[0])
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid record id: %v", err), http.StatusBadRequest)
			return
		}
		if len(rest) == 2 {
			if rest[1] != "value" {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			target, err := h.service.ValueAt(ctx, recordID)
			if err != nil {
				writeError(w, err)
				return
			}
			// nil means the record is a tombstone.
			writeJSON(w, http.StatusOK, target)
			return
		}
		record, err := h.service.Repository().History().Get(ctx, recordID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleTargetHistory(w http.ResponseWriter, r *http.Request, targetType domain.TargetType, id uuid.UUID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, total, err := h.service.TargetHistory(r.Context(), targetType, id, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyPage{Records: records, Total: total})
}

// --- rollback ---

type rollbackPayload struct {
	RecordID string `json:"recordId"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request, targetType domain.TargetType, id uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var payload rollbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	recordID, err := uuid.Parse(strings.TrimSpace(payload.RecordID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid recordId: %v", err), http.StatusBadRequest)
		return
	}
	actor := auth.ActorOrSystem(r.Context())
	target, err := h.service.Rollback(r.Context(), targetType, id, recordID, actor, payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	// nil target means the rollback restored a deleted or never-created state.
	writeJSON(w, http.StatusOK, target)
}

// --- helpers ---

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseHistoryQuery(r *http.Request) (domain.SnapshotFilter, domain.SnapshotSort, domain.Page, error) {
	query := r.URL.Query()
	var filter domain.SnapshotFilter

	if raw := strings.TrimSpace(query.Get("targetType")); raw != "" {
		targetType, err := domain.ParseTargetType(raw)
		if err != nil {
			return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid targetType: %w", err)
		}
		filter.TargetType = targetType
	}
	if raw := strings.TrimSpace(query.Get("targetId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid targetId: %w", err)
		}
		filter.TargetID = &id
	}
	if raw := strings.TrimSpace(query.Get("actorId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid actorId: %w", err)
		}
		filter.ActorID = &id
	}
	if raw := strings.TrimSpace(query.Get("eventType")); raw != "" {
		eventType, err := domain.ParseEventType(strings.ToUpper(raw))
		if err != nil {
			return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid eventType: %w", err)
		}
		filter.EventType = eventType
	}
	if raw := strings.TrimSpace(query.Get("actorClass")); raw != "" {
		actorClass, err := domain.ParseActorClass(strings.ToUpper(raw))
		if err != nil {
			return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid actorClass: %w", err)
		}
		filter.ActorClass = actorClass
	}
	if raw := strings.TrimSpace(query.Get("rollbackOfId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid rollbackOfId: %w", err)
		}
		filter.RollbackOfID = &id
	}
	if raw := strings.TrimSpace(query.Get("createdAfter")); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid createdAfter: %w", err)
		}
		filter.CreatedAfter = &at
	}
	if raw := strings.TrimSpace(query.Get("createdUntil")); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid createdUntil: %w", err)
		}
		filter.CreatedUntil = &at
	}
	filter.ReasonSubstr = strings.TrimSpace(query.Get("reason"))

	sortBy := domain.DefaultSnapshotSort()
	switch strings.TrimSpace(query.Get("sortBy")) {
	case "":
	case string(domain.SnapshotSortFieldCreatedTime):
		sortBy.Field = domain.SnapshotSortFieldCreatedTime
	case string(domain.SnapshotSortFieldVersion):
		sortBy.Field = domain.SnapshotSortFieldVersion
	default:
		return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid sortBy %q", query.Get("sortBy"))
	}
	switch strings.ToLower(strings.TrimSpace(query.Get("sortDir"))) {
	case "":
	case string(domain.SortDirectionAsc):
		sortBy.Direction = domain.SortDirectionAsc
	case string(domain.SortDirectionDesc):
		sortBy.Direction = domain.SortDirectionDesc
	default:
		return filter, domain.SnapshotSort{}, domain.Page{}, fmt.Errorf("invalid sortDir %q", query.Get("sortDir"))
	}

	page, err := parsePage(r)
	if err != nil {
		return filter, domain.SnapshotSort{}, domain.Page{}, err
	}
	return filter, sortBy, page, nil
}

func parsePage(r *http.Request) (domain.Page, error) {
	query := r.URL.Query()
	page := domain.Page{Limit: 50}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return domain.Page{}, errors.New("limit must be a positive integer")
		}
		page.Limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return domain.Page{}, errors.New("offset must be zero or positive")
		}
		page.Offset = parsed
	}
	return page, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var gap *catalog.HistoryGapError
	switch {
	case errors.As(err, &gap):
		// The entity change committed; only the history append is pending
		// until the reconciler repairs it.
		status = http.StatusAccepted
	case errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, catalog.ErrAlreadyExists), errors.Is(err, catalog.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrInvalidOperation):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
