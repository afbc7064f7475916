package engine

import (
	"slices"
	"unicode/utf8"
)

// FieldClassifier решает, является ли поле длинным текстом, который нельзя сливать автоматически
type FieldClassifier interface {
	IsLongText(entityType, field string, value any) bool
}

// LongTextClassifier считает поле длинным текстом, если оно явно перечислено для типа
// или его строковое значение содержит не меньше Threshold символов.
// Threshold 0 отключает проверку по длине.
type LongTextClassifier struct {
	Fields    map[string][]string // тип сущности -> поля; ключ "*" действует для всех типов
	Threshold int
}

func (c LongTextClassifier) IsLongText(entityType, field string, value any) bool {
	if slices.Contains(c.Fields[entityType], field) || slices.Contains(c.Fields["*"], field) {
		return true
	}
	if c.Threshold <= 0 {
		return false
	}
	s, ok := value.(string)
	if !ok {
		return false
	}
	return utf8.RuneCountInString(s) >= c.Threshold
}
