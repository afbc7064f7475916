package models

import (
	"bytes"
	"encoding/json"
	"math/big"
	"sort"
	"strings"
)

// maxExactInt наибольшее целое, которое float64 хранит без потерь
const maxExactInt = 1 << 53

// Payload schema-less содержимое сущности: имя поля -> JSON значение
type Payload map[string]any

// Clone возвращает глубокую копию payload.
// Вложенные объекты и массивы копируются через JSON.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue возвращает глубокую копию одного JSON значения
func CloneValue(v any) any {
	switch tv := v.(type) {
	case nil, string, bool, float64, int, int64:
		return tv
	case json.Number:
		return normalizeNumber(tv)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := decodeJSON(data, &out); err != nil {
		return v
	}
	return out
}

// UnmarshalJSON декодирует payload, не теряя точность больших целых
func (p *Payload) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := decodeJSON(data, &m); err != nil {
		return err
	}
	*p = Payload(m)
	return nil
}

// decodeJSON декодирует с UseNumber и приводит числа через normalizeNumber
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	switch tv := v.(type) {
	case *any:
		*tv = NormalizeNumbers(*tv)
	case *map[string]any:
		NormalizeNumbers(*tv)
	}
	return nil
}

// NormalizeNumbers заменяет json.Number внутри значения.
// Целые до 2^53 и дробные становятся float64, большие целые остаются json.Number,
// который сериализуется теми же цифрами. Maps и slices меняются на месте.
func NormalizeNumbers(v any) any {
	switch tv := v.(type) {
	case json.Number:
		return normalizeNumber(tv)
	case map[string]any:
		for k, item := range tv {
			tv[k] = NormalizeNumbers(item)
		}
	case Payload:
		for k, item := range tv {
			tv[k] = NormalizeNumbers(item)
		}
	case []any:
		for i, item := range tv {
			tv[i] = NormalizeNumbers(item)
		}
	}
	return v
}

func normalizeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		if i >= -maxExactInt && i <= maxExactInt {
			return float64(i)
		}
		return n
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		// целое за пределами int64
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

// Keys возвращает имена полей в отсортированном порядке
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal сравнивает два payload по JSON-представлению значений
func (p Payload) Equal(other Payload) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// Diff возвращает отсортированный список полей, которые отличаются между base и p.
// Удалённые ключи тоже считаются изменёнными.
func (p Payload) Diff(base Payload) []string {
	seen := make(map[string]struct{}, len(p)+len(base))
	for k, v := range p {
		bv, ok := base[k]
		if !ok || !ValuesEqual(v, bv) {
			seen[k] = struct{}{}
		}
	}
	for k := range base {
		if _, ok := p[k]; !ok {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ValuesEqual сравнивает два JSON значения.
// Числа сравниваются по значению, 3, 3.0 и json.Number("3") равны.
// Остальное сравнивается по json.Marshal, он сортирует ключи map.
func ValuesEqual(a, b any) bool {
	if ra, ok := numberRat(a); ok {
		rb, ok := numberRat(b)
		return ok && ra.Cmp(rb) == 0
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func numberRat(v any) (*big.Rat, bool) {
	switch tv := v.(type) {
	case float64:
		r := new(big.Rat)
		if r.SetFloat64(tv) == nil {
			return nil, false
		}
		return r, true
	case int:
		return new(big.Rat).SetInt64(int64(tv)), true
	case int64:
		return new(big.Rat).SetInt64(tv), true
	case json.Number:
		return new(big.Rat).SetString(tv.String())
	}
	return nil, false
}
