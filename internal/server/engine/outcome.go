package engine

import "github.com/iudanet/gophsync/internal/models"

// Status результат обработки одного изменения из push
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusMerged   Status = "merged"
	StatusDeferred Status = "deferred"
	StatusRejected Status = "rejected"
)

// RejectReason причина отказа по одной сущности
type RejectReason string

const (
	ReasonNotFound      RejectReason = "not_found"
	ReasonQuotaExceeded RejectReason = "quota_exceeded"
)

// Outcome итог по одной сущности.
// Accepted: NewVersion. Merged: NewVersion, Payload, Deleted.
// Deferred: ConflictID. Rejected: Reason.
type Outcome struct {
	Payload    models.Payload
	Key        models.EntityKey
	Status     Status
	ConflictID string
	Reason     RejectReason
	NewVersion uint64
	Deleted    bool
}

// PushResult итоги в порядке батча
type PushResult struct {
	Outcomes []Outcome
	// HighestVersion наибольшая версия, выделенная батчу, 0 если ничего не записано
	HighestVersion uint64
}

// PullRequest параметры pull
type PullRequest struct {
	Types        []string
	SinceVersion uint64
	PageSize     int
}

// PullResult одна страница изменений
type PullResult struct {
	Changes        []models.EntityChange
	HighestVersion uint64
	HasMore        bool
}
