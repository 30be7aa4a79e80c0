package boot

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/monokrome/mkOS/pkg/disk"
)

// Cmdline derives the kernel command line from the authoritative
// crypttab entry. Subvol selects the root subvolume; the fallback image
// uses a snapshot path here, everything else uses "@".
func Cmdline(entry *disk.CrypttabEntry, subvol string, extra []string) string {
	source := entry.SourceUUID()
	parts := []string{}
	if source != "" {
		parts = append(parts, fmt.Sprintf("rd.luks.uuid=%s", source))
	} else {
		parts = append(parts, fmt.Sprintf("rd.luks.name=%s=%s", entry.Device, entry.Name))
	}
	parts = append(parts,
		fmt.Sprintf("root=%s", filepath.Join("/dev/mapper", entry.Name)),
		fmt.Sprintf("rootflags=subvol=%s", subvol),
		"rw",
		"quiet",
	)
	parts = append(parts, extra...)
	return strings.Join(parts, " ")
}

// SubvolFromCmdline extracts the root subvolume from a stored command
// line, "" when none is present.
func SubvolFromCmdline(cmdline string) string {
	for _, field := range strings.Fields(cmdline) {
		if strings.HasPrefix(field, "rootflags=") {
			for _, opt := range strings.Split(strings.TrimPrefix(field, "rootflags="), ",") {
				if strings.HasPrefix(opt, "subvol=") {
					return strings.TrimPrefix(opt, "subvol=")
				}
			}
		}
	}
	return ""
}
