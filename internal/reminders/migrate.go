package reminders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"wecare/internal/kvstore"
)

// MigrateLegacyRepeat rewrites stored reminder lists that still use the
// boolean repeat form (false, true) into the named policies. Lists already
// in canonical form are left untouched, so it is idempotent. Entries that do
// not decode are kept at the end of their list. It returns the number of
// lists rewritten.
func MigrateLegacyRepeat(s *kvstore.Session) (int, error) {
	prefix := Key("")
	migrated := 0

	for _, key := range s.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		raw, ok := s.GetRaw(key)
		if !ok {
			continue
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			continue
		}

		list, skipped := Load(s, strings.TrimPrefix(key, prefix))
		canonical, err := kvstore.EncodeList(list, skipped)
		if err != nil {
			return migrated, fmt.Errorf("encode %s: %w", key, err)
		}
		if bytes.Equal(bytes.TrimSpace(raw), canonical) {
			continue
		}

		if err := s.SetRaw(key, canonical); err != nil {
			return migrated, fmt.Errorf("rewrite %s: %w", key, err)
		}
		migrated++
	}
	return migrated, nil
}
