package boot

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/foxboron/go-uefi/efi"

	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

// RoleStatus describes one role slot as found on disk.
type RoleStatus struct {
	Role    Role
	Path    string
	Present bool
	Cmdline string
}

// Status is the observed boot state: the image slots and the owned
// NVRAM entries. Everything is re-derived from disk and firmware, there
// is no cached state to go stale.
type Status struct {
	Kernel     string
	Images     []RoleStatus
	Entries    []Entry
	SecureBoot bool
	SetupMode  bool
}

// ReadStatus inspects root's ESP and, when reachable, the firmware
// variables.
func ReadStatus(root string) (*Status, error) {
	bootDir := filepath.Join(root, cnst.BootDir)
	status := &Status{}

	if kver, err := LatestKernel(root); err == nil {
		status.Kernel = kver
	}

	for _, role := range []Role{RoleMain, RoleFallback, RoleRescue} {
		path := filepath.Join(bootDir, role.Filename(status.Kernel))
		rs := RoleStatus{Role: role, Path: path}
		if _, err := os.Stat(path); err == nil {
			rs.Present = true
			rs.Cmdline = ReadSidecar(bootDir, role, status.Kernel)
		}
		status.Images = append(status.Images, rs)
	}

	if UEFIAvailable() {
		status.SecureBoot = efi.GetSecureBoot()
		status.SetupMode = efi.GetSetupMode()
		out, err := internalUtils.Output("efibootmgr")
		if err == nil {
			status.Entries = ParseEfibootmgr(out).Owned()
		}
	}
	return status, nil
}

// FallbackSubvol reports which subvolume the fallback image boots, ""
// when there is no fallback or no record.
func FallbackSubvol(root string) string {
	bootDir := filepath.Join(root, cnst.BootDir)
	cmdline := ReadSidecar(bootDir, RoleFallback, "")
	if cmdline == "" {
		return ""
	}
	return SubvolFromCmdline(cmdline)
}

// String renders the status for operators.
func (s *Status) String() string {
	var b strings.Builder
	b.WriteString("kernel: " + s.Kernel + "\n")
	if s.SecureBoot {
		b.WriteString("secure boot: enabled\n")
	}
	if s.SetupMode {
		b.WriteString("secure boot: setup mode, keys can be enrolled\n")
	}
	for _, img := range s.Images {
		state := "missing"
		if img.Present {
			state = "present"
		}
		b.WriteString(string(img.Role) + ": " + state)
		if img.Cmdline != "" {
			b.WriteString("  [" + img.Cmdline + "]")
		}
		b.WriteString("\n")
	}
	for _, e := range s.Entries {
		b.WriteString("Boot" + e.Number + " " + e.Label + "\n")
	}
	return b.String()
}
