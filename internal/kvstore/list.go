package kvstore

import (
	"encoding/json"
	"fmt"
)

// GetList decodes the JSON array stored under key one element at a time.
// Elements that do not decode into T are logged and returned raw in skipped,
// so one bad record never hides the rest. A missing key or a value that is
// not an array yields no items.
func GetList[T any](s *Session, key string) (items []T, skipped []json.RawMessage) {
	raw, ok := s.GetRaw(key)
	if !ok {
		return nil, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		s.store.logger.Warnw("Stored list does not decode", "key", key, "error", err)
		return nil, nil
	}

	items = make([]T, 0, len(elems))
	for i, elem := range elems {
		var v T
		if err := json.Unmarshal(elem, &v); err != nil {
			s.store.logger.Warnw("Skipping malformed list entry", "key", key, "index", i, "error", err)
			skipped = append(skipped, elem)
			continue
		}
		items = append(items, v)
	}
	return items, skipped
}

// EncodeList encodes items followed by the raw entries in keep.
func EncodeList[T any](items []T, keep []json.RawMessage) ([]byte, error) {
	out := make([]json.RawMessage, 0, len(items)+len(keep))
	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	out = append(out, keep...)
	return json.Marshal(out)
}

// SetList stores items followed by the raw entries in keep, so entries this
// process cannot decode survive a rewrite.
func SetList[T any](s *Session, key string, items []T, keep []json.RawMessage) error {
	raw, err := EncodeList(items, keep)
	if err != nil {
		return fmt.Errorf("kvstore: encode %q: %w", key, err)
	}
	return s.SetRaw(key, raw)
}

// EntryID reads the "id" field of a raw list entry, or "" when it has none.
func EntryID(raw json.RawMessage) string {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || len(head.ID) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(head.ID, &id); err != nil {
		return ""
	}
	return id
}
