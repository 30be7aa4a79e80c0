package boot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cnst "github.com/monokrome/mkOS/internal/constants"
)

// Role names the place a boot image holds in the three-image scheme.
type Role string

const (
	RoleMain     Role = "main"
	RoleFallback Role = "fallback"
	RoleRescue   Role = "rescue"
)

func (r Role) order() int {
	switch r {
	case RoleMain:
		return 0
	case RoleFallback:
		return 1
	default:
		return 2
	}
}

// Label is the firmware NVRAM label the role owns.
func (r Role) Label() string {
	switch r {
	case RoleMain:
		return cnst.BootEntryPrefix
	case RoleFallback:
		return cnst.BootEntryPrefix + " (fallback)"
	default:
		return cnst.BootEntryPrefix + " (rescue)"
	}
}

// Filename is the on-ESP image name. The main image carries its kernel
// version; fallback and rescue keep fixed names so their NVRAM entries
// survive kernel changes untouched.
func (r Role) Filename(kver string) string {
	switch r {
	case RoleMain:
		return fmt.Sprintf("mkos-%s.efi", kver)
	case RoleFallback:
		return "mkos-fallback.efi"
	default:
		return "mkos-rescue.efi"
	}
}

// Image is one boot image on the ESP.
type Image struct {
	Role    Role
	Kernel  string
	Path    string // absolute path on the install host
	ESPPath string // path relative to the ESP root, leading slash
	Cmdline string
}

// SidecarPath is the .cmdline file recording what is embedded in the
// image. It is the durable record for idempotence and rollback checks,
// since the embedded command line is not cheaply extractable.
func (i Image) SidecarPath() string {
	return strings.TrimSuffix(i.Path, filepath.Ext(i.Path)) + ".cmdline"
}

// WriteSidecar records the image's command line next to it.
func (i Image) WriteSidecar() error {
	return os.WriteFile(i.SidecarPath(), []byte(i.Cmdline+"\n"), 0o644)
}

// ReadSidecar loads the recorded command line for a role from bootDir,
// "" when the role has no image or no record.
func ReadSidecar(bootDir string, role Role, kver string) string {
	name := strings.TrimSuffix(role.Filename(kver), ".efi") + ".cmdline"
	data, err := os.ReadFile(filepath.Join(bootDir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
