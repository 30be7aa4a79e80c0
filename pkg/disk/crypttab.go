package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

// CrypttabEntry is one decrypt mapping: `<name> <device> <keyfile>
// <options>`. Device is usually a UUID= spec.
type CrypttabEntry struct {
	Name    string
	Device  string
	Keyfile string
	Options []string
}

// SourceUUID returns the UUID portion of a UUID= device spec, or "" when
// the entry points at a plain device path.
func (e CrypttabEntry) SourceUUID() string {
	if strings.HasPrefix(e.Device, "UUID=") {
		return strings.TrimPrefix(e.Device, "UUID=")
	}
	return ""
}

// ParseCrypttab decodes crypttab content. Comment and blank lines are
// skipped; a non-comment line with fewer than four fields is a hard error
// since guessed decrypt mappings must never reach a kernel command line.
func ParseCrypttab(content string) ([]CrypttabEntry, error) {
	var entries []CrypttabEntry
	for n, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 4 {
			return nil, fmt.Errorf("crypttab line %d: expected 4 fields, got %d: %q", n+1, len(fields), trimmed)
		}
		entries = append(entries, CrypttabEntry{
			Name:    fields[0],
			Device:  fields[1],
			Keyfile: fields[2],
			Options: strings.Split(fields[3], ","),
		})
	}
	return entries, nil
}

// RootCrypttabEntry loads <root>/etc/crypttab and returns the first entry
// as the authoritative root mapping. Additional entries are legal but only
// the first drives boot-image generation, so extras get a warning.
func RootCrypttabEntry(root string) (*CrypttabEntry, error) {
	path := filepath.Join(root, "etc", "crypttab")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	entries, err := ParseCrypttab(string(content))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: no decrypt mappings defined", path)
	}
	if len(entries) > 1 {
		internalUtils.Log.Warn().Int("extra", len(entries)-1).Msg("crypttab has multiple mappings, only the first drives the boot images")
	}
	return &entries[0], nil
}

// WriteCrypttab records the root mapping in the target's /etc/crypttab.
func WriteCrypttab(root, mapperName, luksUUID string) error {
	content := fmt.Sprintf(
		"# <target name> <source device> <key file> <options>\n%s UUID=%s none luks,discard\n",
		mapperName, luksUUID,
	)
	path := filepath.Join(root, "etc", "crypttab")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
