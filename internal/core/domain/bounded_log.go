package domain

import "encoding/json"

// BoundedLog is an append-only sequence that keeps at most limit of the most
// recent entries, evicting the oldest first.
type BoundedLog[T any] struct {
	items []T
	limit int
}

func NewBoundedLog[T any](limit int) *BoundedLog[T] {
	if limit <= 0 {
		limit = 1
	}
	return &BoundedLog[T]{
		items: make([]T, 0, min(limit, 16)),
		limit: limit,
	}
}

func (l *BoundedLog[T]) Append(v T) {
	l.items = append(l.items, v)
	if over := len(l.items) - l.limit; over > 0 {
		n := copy(l.items, l.items[over:])
		clear(l.items[n:])
		l.items = l.items[:n]
	}
}

func (l *BoundedLog[T]) Len() int {
	return len(l.items)
}

func (l *BoundedLog[T]) Limit() int {
	return l.limit
}

func (l *BoundedLog[T]) Latest() (T, bool) {
	var zero T
	if len(l.items) == 0 {
		return zero, false
	}
	return l.items[len(l.items)-1], true
}

// Items returns a copy of all retained entries, oldest first.
func (l *BoundedLog[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Last returns a copy of the n most recent entries, oldest first.
func (l *BoundedLog[T]) Last(n int) []T {
	if n > len(l.items) {
		n = len(l.items)
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, n)
	copy(out, l.items[len(l.items)-n:])
	return out
}

func (l *BoundedLog[T]) Clone() *BoundedLog[T] {
	return l.CloneWith(nil)
}

// CloneWith copies the log, passing each entry through copyItem when it is
// non-nil so entries holding maps or slices can be deep copied.
func (l *BoundedLog[T]) CloneWith(copyItem func(T) T) *BoundedLog[T] {
	if l == nil {
		return nil
	}
	items := l.Items()
	if copyItem != nil {
		for i := range items {
			items[i] = copyItem(items[i])
		}
	}
	return &BoundedLog[T]{items: items, limit: l.limit}
}

func (l *BoundedLog[T]) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

func (l *BoundedLog[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if l.limit <= 0 {
		l.limit = max(len(items), 1)
	}
	l.items = l.items[:0]
	for _, it := range items {
		l.Append(it)
	}
	return nil
}
