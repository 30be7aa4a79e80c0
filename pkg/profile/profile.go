package profile

import (
	"fmt"
	"path/filepath"

	"github.com/twpayne/go-vfs/v4"

	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

// InitKind names the init idiom a distribution uses for service
// enablement.
type InitKind string

const (
	InitRunit    InitKind = "runit"
	InitS6       InitKind = "s6"
	InitOpenRC   InitKind = "openrc"
	InitSysVinit InitKind = "sysvinit"
)

// BootstrapKind selects the bootstrap procedure for a distribution.
type BootstrapKind string

const (
	// BootstrapStrap uses a chrooted install tool (basestrap, debootstrap).
	BootstrapStrap BootstrapKind = "strap"
	// BootstrapRootInstall installs packages with a --root style prefix.
	BootstrapRootInstall BootstrapKind = "root-install"
	// BootstrapTarball extracts a prebuilt rootfs tarball.
	BootstrapTarball BootstrapKind = "tarball"
	// BootstrapStage3 downloads, verifies and extracts a stage3 tarball.
	BootstrapStage3 BootstrapKind = "stage3"
)

// DistroProfile describes one supported distribution: how to detect it,
// how to bootstrap it, and how to talk to its package manager and init.
type DistroProfile struct {
	ID             string
	Name           string
	Init           InitKind
	Bootstrap      BootstrapKind
	Marker         string // detection marker path, relative to the root
	PackageManager string
	KernelPackage  string // native name of the kernel package
	SyncArgs       []string
	UpgradeArgs    []string
	InstallArgs    []string // args before the package list for a chrooted install
	StrapTool      string   // for BootstrapStrap

	// Packages maps logical package names to native ones. The baseline
	// table ships with the profile; site tables merged on top come from
	// external mapping data.
	Packages map[string]string
}

// MapPackages resolves logical names against the profile's mapping table.
// Unknown names are collected, not fatal: the caller surfaces them in the
// final run report.
func (p *DistroProfile) MapPackages(logical []string) (installable, unmapped []string) {
	for _, name := range logical {
		if native, ok := p.Packages[name]; ok {
			installable = append(installable, native)
		} else {
			unmapped = append(unmapped, name)
		}
	}
	return installable, unmapped
}

// MergeMappings overlays an external per-distro mapping table (env format,
// "logical=native" lines) on the baseline table.
func (p *DistroProfile) MergeMappings(path string) error {
	table, err := internalUtils.ReadEnv(path)
	if err != nil {
		return fmt.Errorf("reading mapping table %s: %w", path, err)
	}
	for logical, native := range table {
		p.Packages[logical] = native
	}
	return nil
}

// Registry returns the supported profiles in detection order. The order is
// load-bearing: marker files are checked first to last and the first hit
// wins.
func Registry() []*DistroProfile {
	return []*DistroProfile{
		{
			ID:             "artix",
			Name:           "Artix Linux",
			Init:           InitRunit,
			Bootstrap:      BootstrapStrap,
			Marker:         "etc/artix-release",
			PackageManager: "pacman",
			KernelPackage:  "linux",
			SyncArgs:       []string{"-Sy"},
			UpgradeArgs:    []string{"-Su", "--noconfirm"},
			InstallArgs:    []string{"-S", "--noconfirm", "--needed"},
			StrapTool:      "basestrap",
			Packages:       basePackages("artix"),
		},
		{
			ID:             "void",
			Name:           "Void Linux",
			Init:           InitRunit,
			Bootstrap:      BootstrapRootInstall,
			Marker:         "etc/void-release",
			PackageManager: "xbps-install",
			KernelPackage:  "linux",
			SyncArgs:       []string{"-S"},
			UpgradeArgs:    []string{"-Suy"},
			InstallArgs:    []string{"-y"},
			Packages:       basePackages("void"),
		},
		{
			ID:             "slackware",
			Name:           "Slackware Linux",
			Init:           InitSysVinit,
			Bootstrap:      BootstrapTarball,
			Marker:         "etc/slackware-version",
			PackageManager: "slapt-get",
			KernelPackage:  "kernel-generic",
			SyncArgs:       []string{"--update"},
			UpgradeArgs:    []string{"--upgrade", "-y"},
			InstallArgs:    []string{"--install", "-y"},
			Packages:       basePackages("slackware"),
		},
		{
			ID:             "alpine",
			Name:           "Alpine Linux",
			Init:           InitOpenRC,
			Bootstrap:      BootstrapRootInstall,
			Marker:         "etc/alpine-release",
			PackageManager: "apk",
			KernelPackage:  "linux-lts",
			SyncArgs:       []string{"update"},
			UpgradeArgs:    []string{"upgrade"},
			InstallArgs:    []string{"add"},
			Packages:       basePackages("alpine"),
		},
		{
			ID:             "gentoo",
			Name:           "Gentoo Linux",
			Init:           InitOpenRC,
			Bootstrap:      BootstrapStage3,
			Marker:         "etc/gentoo-release",
			PackageManager: "emerge",
			KernelPackage:  "sys-kernel/gentoo-kernel-bin",
			SyncArgs:       []string{"--sync"},
			UpgradeArgs:    []string{"--update", "--deep", "--newuse", "@world"},
			InstallArgs:    []string{"--ask", "n"},
			Packages:       basePackages("gentoo"),
		},
		{
			ID:             "devuan",
			Name:           "Devuan GNU+Linux",
			Init:           InitSysVinit,
			Bootstrap:      BootstrapStrap,
			Marker:         "etc/devuan_version",
			PackageManager: "apt-get",
			KernelPackage:  "linux-image-amd64",
			SyncArgs:       []string{"update"},
			UpgradeArgs:    []string{"dist-upgrade", "-y"},
			InstallArgs:    []string{"install", "-y"},
			StrapTool:      "debootstrap",
			Packages:       basePackages("devuan"),
		},
	}
}

// ByID looks a profile up by its id for explicit selection.
func ByID(id string) (*DistroProfile, error) {
	for _, p := range Registry() {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown distribution %q", id)
}

// Detect checks each profile's marker file against the live environment
// rooted at root. No match is a valid state, not an error: the caller must
// then select a profile explicitly.
func Detect(root string) (*DistroProfile, bool) {
	return DetectFS(vfs.OSFS, root)
}

// DetectFS is Detect against an arbitrary filesystem.
func DetectFS(fs vfs.FS, root string) (*DistroProfile, bool) {
	for _, p := range Registry() {
		if _, err := fs.Stat(filepath.Join(root, p.Marker)); err == nil {
			return p, true
		}
	}

	// Marker misses still leave os-release. Its ID field names the distro
	// directly on most of the supported set.
	env, err := internalUtils.ReadEnvFS(fs, filepath.Join(root, "etc/os-release"))
	if err != nil {
		return nil, false
	}
	for _, p := range Registry() {
		if env["ID"] == p.ID {
			return p, true
		}
	}
	return nil, false
}
