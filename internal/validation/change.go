package validation

import (
	"fmt"
	"regexp"
	"unicode"

	"github.com/iudanet/gophsync/internal/models"
)

// EntityTypePattern допустимое имя типа сущности
var EntityTypePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]{0,63}$`)

// MaxEntityIDLen максимальная длина идентификатора сущности
const MaxEntityIDLen = 128

// Violation одна причина отклонения изменения
type Violation struct {
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Reason     string `json:"reason"`
	Index      int    `json:"index"` // позиция изменения в батче
}

func (v Violation) String() string {
	if v.EntityType == "" && v.EntityID == "" {
		return fmt.Sprintf("#%d: %s", v.Index, v.Reason)
	}
	return fmt.Sprintf("#%d %s/%s: %s", v.Index, v.EntityType, v.EntityID, v.Reason)
}

// ValidateEntityID проверяет идентификатор сущности
func ValidateEntityID(id string) error {
	if id == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if len(id) > MaxEntityIDLen {
		return fmt.Errorf("entity id must not exceed %d characters", MaxEntityIDLen)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("entity id must not contain whitespace or control characters")
		}
	}
	return nil
}

// ValidateChange проверяет форму одного изменения, не глядя на состояние сервера
func ValidateChange(ch *models.EntityChange) []string {
	var reasons []string

	if !EntityTypePattern.MatchString(ch.Type) {
		reasons = append(reasons, "invalid entity type")
	}
	if err := ValidateEntityID(ch.ID); err != nil {
		reasons = append(reasons, err.Error())
	}
	if ch.UpdatedAt.IsZero() {
		reasons = append(reasons, "updated_at is required")
	}

	switch ch.Op {
	case models.OpCreate:
		if ch.BaseVersion != 0 {
			reasons = append(reasons, "create must not carry base_version")
		}
		if ch.Payload == nil {
			reasons = append(reasons, "create requires payload")
		}
	case models.OpUpdate:
		if ch.BaseVersion == 0 {
			reasons = append(reasons, "update requires base_version")
		}
		if ch.Payload == nil {
			reasons = append(reasons, "update requires payload")
		}
	case models.OpDelete:
		if ch.BaseVersion == 0 {
			reasons = append(reasons, "delete requires base_version")
		}
		if len(ch.Payload) > 0 {
			reasons = append(reasons, "delete must not carry payload")
		}
		if len(ch.ChangedFields) > 0 {
			reasons = append(reasons, "delete must not carry changed_fields")
		}
	default:
		reasons = append(reasons, fmt.Sprintf("unknown op %q", ch.Op))
	}

	seen := make(map[string]struct{}, len(ch.ChangedFields))
	for _, f := range ch.ChangedFields {
		if f == "" {
			reasons = append(reasons, "changed_fields contains an empty name")
			continue
		}
		if _, dup := seen[f]; dup {
			reasons = append(reasons, fmt.Sprintf("changed_fields lists %q twice", f))
		}
		seen[f] = struct{}{}
	}

	return reasons
}

// ValidateBatch проверяет весь батч push: размер, форму каждого изменения
// и повторы одной сущности. Пустой результат означает, что батч корректен.
func ValidateBatch(changes []models.EntityChange, maxBatch int) []Violation {
	if len(changes) == 0 {
		return []Violation{{Index: -1, Reason: "batch is empty"}}
	}
	if maxBatch > 0 && len(changes) > maxBatch {
		return []Violation{{Index: -1, Reason: fmt.Sprintf("batch exceeds %d changes", maxBatch)}}
	}

	var violations []Violation
	seen := make(map[models.EntityKey]int, len(changes))

	for i := range changes {
		ch := &changes[i]
		for _, reason := range ValidateChange(ch) {
			violations = append(violations, Violation{Index: i, EntityType: ch.Type, EntityID: ch.ID, Reason: reason})
		}

		key := ch.Key()
		if first, dup := seen[key]; dup {
			violations = append(violations, Violation{
				Index:      i,
				EntityType: ch.Type,
				EntityID:   ch.ID,
				Reason:     fmt.Sprintf("entity already changed at position %d in this batch", first),
			})
			continue
		}
		seen[key] = i
	}

	return violations
}
