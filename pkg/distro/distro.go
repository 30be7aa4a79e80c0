package distro

import (
	"fmt"
	"strings"

	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/manifest"
	"github.com/monokrome/mkOS/pkg/profile"
)

// basePackageSet is the logical package list every target needs before it
// can rebuild its own boot images.
var basePackageSet = []string{
	"base-system",
	"linux-kernel",
	"linux-firmware",
	"dracut",
	"efibootmgr",
	"cryptsetup",
	"btrfs-progs",
	"dhcpcd",
}

// Bootstrap installs the minimal system into root using the profile's
// bootstrap kind. The target's package database ends up consistent, so
// later InstallPackages calls can run chrooted.
func Bootstrap(p *profile.DistroProfile, m *manifest.InstallManifest, root string) error {
	installable, unmapped := p.MapPackages(basePackageSet)
	if len(unmapped) > 0 {
		internalUtils.Log.Warn().Strs("packages", unmapped).Str("distro", p.ID).Msg("base packages without a native mapping")
	}

	switch p.Bootstrap {
	case profile.BootstrapStrap:
		args := append([]string{root}, installable...)
		if _, err := internalUtils.Run(p.StrapTool, args...); err != nil {
			return fmt.Errorf("%w: %s: %v", cnst.ErrBootstrapFailed, p.StrapTool, err)
		}
	case profile.BootstrapRootInstall:
		if err := bootstrapRootInstall(p, m, root, installable); err != nil {
			return err
		}
	case profile.BootstrapTarball:
		if m.Bootstrap.Tarball == "" {
			return fmt.Errorf("%w: %s needs a rootfs tarball", cnst.ErrBootstrapFailed, p.ID)
		}
		if err := extractTarball(m.Bootstrap.Tarball, root); err != nil {
			return err
		}
	case profile.BootstrapStage3:
		if err := bootstrapStage3(m, root); err != nil {
			return err
		}
		// Stage3 carries no kernel. Emerge the essentials in-target.
		if err := InstallPackages(p, root, basePackageSet); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unsupported bootstrap kind %q", cnst.ErrBootstrapFailed, p.Bootstrap)
	}
	return nil
}

// bootstrapRootInstall drives the package managers that natively install
// into a foreign root.
func bootstrapRootInstall(p *profile.DistroProfile, m *manifest.InstallManifest, root string, packages []string) error {
	switch p.ID {
	case "void":
		mirror := m.Bootstrap.Mirror
		if mirror == "" {
			mirror = "https://repo-default.voidlinux.org/current"
		}
		args := append([]string{"-Sy", "-R", mirror, "-r", root}, packages...)
		if _, err := internalUtils.Run("xbps-install", args...); err != nil {
			return fmt.Errorf("%w: xbps-install: %v", cnst.ErrBootstrapFailed, err)
		}
	case "alpine":
		args := append([]string{"add", "--root", root, "--initdb", "--no-cache"}, packages...)
		if _, err := internalUtils.Run("apk", args...); err != nil {
			return fmt.Errorf("%w: apk: %v", cnst.ErrBootstrapFailed, err)
		}
	default:
		return fmt.Errorf("%w: no root-install procedure for %s", cnst.ErrBootstrapFailed, p.ID)
	}
	return nil
}

func extractTarball(tarball, root string) error {
	_, err := internalUtils.Run("tar", "xpf", tarball, "--xattrs-include=*.*", "--numeric-owner", "-C", root)
	if err != nil {
		return fmt.Errorf("%w: extracting %s: %v", cnst.ErrBootstrapFailed, tarball, err)
	}
	return nil
}

// Sync refreshes the target's package index inside a chroot.
func Sync(p *profile.DistroProfile, root string) error {
	return chrootedPackageCommand(p, root, p.SyncArgs)
}

// Upgrade applies all pending package upgrades inside a chroot.
func Upgrade(p *profile.DistroProfile, root string) error {
	return chrootedPackageCommand(p, root, p.UpgradeArgs)
}

// InstallPackages maps the logical names and installs them chrooted.
// Unmapped names are skipped and returned via the warning log; the caller
// collects them for the run report.
func InstallPackages(p *profile.DistroProfile, root string, logical []string) error {
	installable, unmapped := p.MapPackages(logical)
	if len(unmapped) > 0 {
		internalUtils.Log.Warn().Strs("packages", unmapped).Str("distro", p.ID).Msg("skipping packages without a native mapping")
	}
	if len(installable) == 0 {
		return nil
	}
	return chrootedPackageCommand(p, root, append(p.InstallArgs, installable...))
}

func chrootedPackageCommand(p *profile.DistroProfile, root string, args []string) error {
	chroot := internalUtils.NewChroot(root)
	out, err := chroot.Run(fmt.Sprintf("%s %s", p.PackageManager, strings.Join(args, " ")))
	if err != nil {
		internalUtils.Log.Err(err).Str("output", out).Str("distro", p.ID).Msg("package command failed")
		return fmt.Errorf("%s %s: %w", p.PackageManager, strings.Join(args, " "), err)
	}
	return nil
}
