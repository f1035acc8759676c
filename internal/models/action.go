package models

import (
	"encoding/json"
	"time"
)

// ActionKind тип мутации, которую Action применяет к удалённому ресурсу.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Приоритеты: меньшее значение выполняется раньше.
const (
	PriorityHigh   = 1
	PriorityNormal = 5 // значение по умолчанию
	PriorityLow    = 9
)

// Action представляет одну отложенную мутацию удалённого хранилища.
// Единственное изменяемое поле после постановки в очередь - RetryCount.
type Action struct {
	EnqueuedAt time.Time       `json:"enqueued_at"` // EnqueuedAt время постановки в очередь
	ID         string          `json:"id"`          // ID уникальный идентификатор (UUID), также ключ идемпотентности
	Kind       ActionKind      `json:"kind"`        // Kind create, update или delete
	Resource   string          `json:"resource"`    // Resource имя таблицы/коллекции
	TenantID   string          `json:"tenant_id"`   // TenantID владелец (организация)
	ActorID    string          `json:"actor_id"`    // ActorID пользователь, запросивший мутацию
	Payload    json.RawMessage `json:"payload"`     // Payload непрозрачные данные для Executor
	RetryCount int             `json:"retry_count"` // RetryCount число неудачных попыток
	Priority   int             `json:"priority"`    // Priority меньше = раньше
}

// Failed reports whether the action has exhausted its retry budget.
func (a *Action) Failed(maxRetries int) bool {
	return a.RetryCount >= maxRetries
}

// TargetID extracts the "id" field from the payload.
// Returns an empty string if the payload is not an object or has no id.
func (a *Action) TargetID() string {
	var target struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(a.Payload, &target); err != nil || len(target.ID) == 0 || string(target.ID) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(target.ID, &s); err == nil {
		return s
	}
	// числовые идентификаторы тоже допустимы
	return string(target.ID)
}

// Clone creates a deep copy of the action
func (a *Action) Clone() *Action {
	payload := make(json.RawMessage, len(a.Payload))
	copy(payload, a.Payload)

	clone := *a
	clone.Payload = payload
	return &clone
}
