package envfile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/storage"
)

// filePerm keeps override files owner read/write only; they can carry
// credentials.
const filePerm = 0o600

// WriteFile atomically replaces path with the given entries, one KEY=VALUE
// per line sorted by key. Every entry is validated first so an invalid pair
// can never reach disk.
func WriteFile(path string, entries map[string]string) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		if err := ValidateKey(k); err != nil {
			return err
		}
		if err := ValidateValue(entries[k]); err != nil {
			return fmt.Errorf("key %s: %w", k, err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(entries[k])
		b.WriteByte('\n')
	}

	if err := storage.WriteFileAtomic(path, []byte(b.String()), filePerm); err != nil {
		return fmt.Errorf("failed to write override file: %w", err)
	}
	return nil
}
