package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/iudanet/offsync/internal/server/storage"
	"github.com/iudanet/offsync/internal/validation"
	"github.com/iudanet/offsync/pkg/api"
)

//go:generate moq -out record_storage_mock.go -pkg handlers ../storage RecordStorage

// maxRecordSize ограничивает размер тела одной записи
const maxRecordSize = 1 << 20

// RecordsHandler serves per-tenant record collections.
type RecordsHandler struct {
	logger  *slog.Logger
	storage storage.RecordStorage
	newID   func() string
}

// NewRecordsHandler creates a new records handler
func NewRecordsHandler(logger *slog.Logger, storage storage.RecordStorage) *RecordsHandler {
	return &RecordsHandler{
		logger:  logger,
		storage: storage,
		newID:   uuid.NewString,
	}
}

// Create обрабатывает POST /api/v1/tenants/{tenant}/{resource}
// Запись без id получает сгенерированный id
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	write, ok := h.authorize(w, r)
	if !ok {
		return
	}

	fields, ok := h.decode(w, r)
	if !ok {
		return
	}

	write.ID = recordID(fields)
	if write.ID == "" {
		write.ID = h.newID()
		fields["id"], _ = json.Marshal(write.ID)
	}

	h.save(w, r, write, fields, http.StatusCreated)
}

// Update обрабатывает PUT /api/v1/tenants/{tenant}/{resource}/{id}
// Работает как upsert: id из пути перекрывает id в теле
func (h *RecordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	write, ok := h.authorize(w, r)
	if !ok {
		return
	}

	fields, ok := h.decode(w, r)
	if !ok {
		return
	}

	write.ID = r.PathValue("id")
	fields["id"], _ = json.Marshal(write.ID)

	h.save(w, r, write, fields, http.StatusOK)
}

// Delete обрабатывает DELETE /api/v1/tenants/{tenant}/{resource}/{id}
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	write, ok := h.authorize(w, r)
	if !ok {
		return
	}
	write.ID = r.PathValue("id")

	duplicate, err := h.storage.DeleteRecord(r.Context(), write)
	if err != nil {
		h.writeStorageError(w, err, write)
		return
	}

	h.logger.Info("Record deleted",
		"tenant_id", write.TenantID,
		"collection", write.Collection,
		"id", write.ID,
		"duplicate", duplicate)

	w.WriteHeader(http.StatusNoContent)
}

// List обрабатывает GET /api/v1/tenants/{tenant}/{resource}?field=..&keys=a,b
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	write, ok := h.authorize(w, r)
	if !ok {
		return
	}

	q := storage.Query{
		TenantID:   write.TenantID,
		Collection: write.Collection,
		Field:      r.URL.Query().Get(api.QueryField),
	}
	if q.Field != "" {
		q.Keys = splitKeys(r.URL.Query().Get(api.QueryKeys))
	}

	records, err := h.storage.ListRecords(r.Context(), q)
	if err != nil {
		h.writeStorageError(w, err, write)
		return
	}

	h.logger.Debug("Records listed",
		"tenant_id", q.TenantID,
		"collection", q.Collection,
		"field", q.Field,
		"keys", len(q.Keys),
		"records", len(records))

	WriteJSON(w, h.logger, http.StatusOK, api.ListResponse{Records: records})
}

// authorize сверяет tenant из пути с tenant из токена
func (h *RecordsHandler) authorize(w http.ResponseWriter, r *http.Request) (storage.Write, bool) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		h.logger.Error("Tenant ID not found in context")
		WriteError(w, h.logger, http.StatusUnauthorized, "missing credentials")
		return storage.Write{}, false
	}

	if path := r.PathValue("tenant"); path != tenantID {
		h.logger.Warn("Tenant mismatch", "token_tenant", tenantID, "path_tenant", path)
		WriteError(w, h.logger, http.StatusForbidden, "token is not valid for this tenant")
		return storage.Write{}, false
	}

	collection := r.PathValue("resource")
	if err := validation.ValidateIdentifier("resource", collection); err != nil {
		h.logger.Warn("Invalid collection name", "collection", collection)
		WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return storage.Write{}, false
	}

	actorID := r.Header.Get(api.HeaderActorID)
	if actorID == "" {
		actorID, _ = GetUserID(r.Context())
	}

	return storage.Write{
		TenantID:       tenantID,
		Collection:     collection,
		ActorID:        actorID,
		IdempotencyKey: r.Header.Get(api.HeaderIdempotencyKey),
	}, true
}

func (h *RecordsHandler) decode(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordSize)).Decode(&fields); err != nil || fields == nil {
		h.logger.Warn("Failed to decode record", "error", err)
		WriteError(w, h.logger, http.StatusBadRequest, "record must be a JSON object")
		return nil, false
	}
	return fields, true
}

func (h *RecordsHandler) save(w http.ResponseWriter, r *http.Request, write storage.Write, fields map[string]json.RawMessage, status int) {
	record, err := json.Marshal(fields)
	if err != nil {
		h.logger.Error("Failed to encode record", "error", err)
		WriteError(w, h.logger, http.StatusInternalServerError, "failed to encode record")
		return
	}

	saved, duplicate, err := h.storage.SaveRecord(r.Context(), write, record)
	if err != nil {
		h.writeStorageError(w, err, write)
		return
	}

	if duplicate {
		// повтор уже обработанного запроса: клиент не получил первый ответ
		status = http.StatusOK
	}

	h.logger.Info("Record saved",
		"tenant_id", write.TenantID,
		"collection", write.Collection,
		"id", write.ID,
		"actor_id", write.ActorID,
		"duplicate", duplicate)

	WriteJSON(w, h.logger, status, api.RecordResponse{Record: saved, Duplicate: duplicate})
}

func (h *RecordsHandler) writeStorageError(w http.ResponseWriter, err error, write storage.Write) {
	switch {
	case errors.Is(err, storage.ErrRecordNotFound):
		WriteError(w, h.logger, http.StatusNotFound, "record not found")
	case errors.Is(err, storage.ErrInvalidFilter), errors.Is(err, storage.ErrMissingID):
		WriteError(w, h.logger, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Storage operation failed",
			"error", err,
			"tenant_id", write.TenantID,
			"collection", write.Collection)
		WriteError(w, h.logger, http.StatusInternalServerError, "internal server error")
	}
}

// recordID возвращает id записи; числовой id берётся как текст
func recordID(fields map[string]json.RawMessage) string {
	raw, ok := fields["id"]
	if !ok || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}

	keys := make([]string, 0, strings.Count(s, ",")+1)
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
