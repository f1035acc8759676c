package api

import (
	"encoding/json"
	"time"
)

// Query-параметры выборки записей
const (
	QueryField = "field"
	QueryKeys  = "keys"
)

// RecordResponse представляет ответ на create/update одной записи
type RecordResponse struct {
	Record    json.RawMessage `json:"record"`               // сохранённая запись, включая id
	Duplicate bool            `json:"duplicate,omitempty"` // запрос с этим Idempotency-Key уже обработан
}

// ListResponse представляет ответ на выборку коллекции
type ListResponse struct {
	Records []json.RawMessage `json:"records"`
}

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Time   time.Time `json:"time"`
	Status string    `json:"status"`
}
