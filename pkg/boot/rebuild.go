package boot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/disk"
)

// RebuildOptions parameterize one boot-image rebuild.
type RebuildOptions struct {
	Root         string
	ExtraCmdline []string
	// SecureBootKeyDir holds db.key/db.crt. Empty or missing material
	// skips signing.
	SecureBootKeyDir string
}

// Rebuild drives the full boot-image lifecycle: resolve the target
// kernel, preserve the previous main image as fallback on kernel change,
// regenerate and verify the initramfs, assemble the main and rescue
// images, sign what key material allows, prune stale images, and
// reconcile firmware NVRAM. Re-running with unchanged inputs converges
// to the same file set and entries.
func Rebuild(opts RebuildOptions) error {
	root := opts.Root
	bootDir := filepath.Join(root, cnst.BootDir)

	kver, err := LatestKernel(root)
	if err != nil {
		return err
	}
	internalUtils.Log.Info().Str("kernel", kver).Msg("rebuilding boot images")

	entry, err := disk.RootCrypttabEntry(root)
	if err != nil {
		return err
	}

	// Preserve the old main image first. If anything later fails, the
	// fallback still boots the previous kernel.
	if err := preserveFallback(bootDir, kver); err != nil {
		return err
	}

	if err := WriteDracutConf(root); err != nil {
		return err
	}
	if err := BuildInitramfs(root, kver); err != nil {
		return err
	}

	mainCmdline := Cmdline(entry, "@", opts.ExtraCmdline)
	rescueCmdline := mainCmdline + " init=/bin/sh"

	main := Image{
		Role:    RoleMain,
		Kernel:  kver,
		Path:    filepath.Join(bootDir, RoleMain.Filename(kver)),
		ESPPath: "/" + RoleMain.Filename(kver),
		Cmdline: mainCmdline,
	}
	rescue := Image{
		Role:    RoleRescue,
		Kernel:  kver,
		Path:    filepath.Join(bootDir, RoleRescue.Filename(kver)),
		ESPPath: "/" + RoleRescue.Filename(kver),
		Cmdline: rescueCmdline,
	}
	for _, img := range []Image{main, rescue} {
		if err := buildUKI(root, kver, img.Cmdline, img.Path); err != nil {
			return err
		}
		if err := img.WriteSidecar(); err != nil {
			return err
		}
	}

	fallback := Image{
		Role:    RoleFallback,
		Path:    filepath.Join(bootDir, RoleFallback.Filename("")),
		ESPPath: "/" + RoleFallback.Filename(""),
		Cmdline: ReadSidecar(bootDir, RoleFallback, ""),
	}

	if key, cert, ok := SigningKeys(opts.SecureBootKeyDir); ok {
		for _, img := range []Image{main, fallback, rescue} {
			if _, err := os.Stat(img.Path); err != nil {
				continue
			}
			if err := SignImage(img.Path, key, cert); err != nil {
				return err
			}
		}
	}

	if err := pruneStaleImages(bootDir, kver); err != nil {
		return err
	}
	if err := WriteStartupNSH(bootDir, main.ESPPath); err != nil {
		return err
	}

	return reconcileNVRAM(bootDir, []Image{main, fallback, rescue})
}

// preserveFallback copies the previous main image and its sidecar to the
// fallback slot when the target kernel changed. An unchanged kernel
// leaves the fallback untouched.
func preserveFallback(bootDir, kver string) error {
	prevPath, prevKver, found := currentMainImage(bootDir)
	if !found || prevKver == kver {
		return nil
	}
	internalUtils.Log.Info().Str("from", prevKver).Str("to", kver).Msg("kernel changed, preserving previous main image as fallback")

	fallbackPath := filepath.Join(bootDir, RoleFallback.Filename(""))
	if err := copyFile(prevPath, fallbackPath); err != nil {
		return fmt.Errorf("preserving fallback image: %w", err)
	}
	prevSidecar := strings.TrimSuffix(prevPath, ".efi") + ".cmdline"
	if data, err := os.ReadFile(prevSidecar); err == nil {
		fallbackSidecar := strings.TrimSuffix(fallbackPath, ".efi") + ".cmdline"
		if err := os.WriteFile(fallbackSidecar, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// currentMainImage finds the versioned main image currently on the ESP.
func currentMainImage(bootDir string) (path, kver string, found bool) {
	entries, err := os.ReadDir(bootDir)
	if err != nil {
		return "", "", false
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "mkos-") || !strings.HasSuffix(name, ".efi") {
			continue
		}
		if name == RoleFallback.Filename("") || name == RoleRescue.Filename("") {
			continue
		}
		v := strings.TrimSuffix(strings.TrimPrefix(name, "mkos-"), ".efi")
		if found && CompareKernelVersions(v, kver) <= 0 {
			continue
		}
		path = filepath.Join(bootDir, name)
		kver = v
		found = true
	}
	return path, kver, found
}

// pruneStaleImages removes versioned main images and sidecars for other
// kernels. Fallback and rescue keep fixed names and are never pruned.
func pruneStaleImages(bootDir, kver string) error {
	entries, err := os.ReadDir(bootDir)
	if err != nil {
		return err
	}
	keep := RoleMain.Filename(kver)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "mkos-") || !strings.HasSuffix(name, ".efi") {
			continue
		}
		if name == keep || name == RoleFallback.Filename("") || name == RoleRescue.Filename("") {
			continue
		}
		internalUtils.Log.Debug().Str("image", name).Msg("pruning stale boot image")
		if err := os.Remove(filepath.Join(bootDir, name)); err != nil {
			return err
		}
		os.Remove(filepath.Join(bootDir, strings.TrimSuffix(name, ".efi")+".cmdline"))
	}
	return nil
}

// RepointFallback rebuilds the fallback image so it boots from subvol,
// used by rollback to aim the fallback at a snapshot without touching
// the live filesystem.
func RepointFallback(root, subvol string, extra []string) error {
	bootDir := filepath.Join(root, cnst.BootDir)
	kver, err := LatestKernel(root)
	if err != nil {
		return err
	}
	entry, err := disk.RootCrypttabEntry(root)
	if err != nil {
		return err
	}

	fallback := Image{
		Role:    RoleFallback,
		Kernel:  kver,
		Path:    filepath.Join(bootDir, RoleFallback.Filename("")),
		ESPPath: "/" + RoleFallback.Filename(""),
		Cmdline: Cmdline(entry, subvol, extra),
	}
	if err := buildUKI(root, kver, fallback.Cmdline, fallback.Path); err != nil {
		return err
	}
	if err := fallback.WriteSidecar(); err != nil {
		return err
	}

	main := Image{Role: RoleMain, Path: filepath.Join(bootDir, RoleMain.Filename(kver)), ESPPath: "/" + RoleMain.Filename(kver)}
	rescue := Image{Role: RoleRescue, Path: filepath.Join(bootDir, RoleRescue.Filename("")), ESPPath: "/" + RoleRescue.Filename("")}
	return reconcileNVRAM(bootDir, []Image{main, fallback, rescue})
}

// reconcileNVRAM applies the entry reconciliation, degrading to warnings
// when the system has no reachable firmware variables.
func reconcileNVRAM(bootDir string, images []Image) error {
	if !UEFIAvailable() {
		internalUtils.Log.Warn().Msg("no UEFI variables available, skipping NVRAM reconciliation")
		return nil
	}
	device, partition, err := ESPDevice(bootDir)
	if err != nil {
		internalUtils.Log.Warn().Err(err).Msg("cannot derive the ESP device, skipping NVRAM reconciliation")
		return nil
	}

	out, err := internalUtils.Output("efibootmgr")
	if err != nil {
		return fmt.Errorf("%w: reading NVRAM: %v", cnst.ErrBootEntryReconcile, err)
	}
	plan := PlanReconcile(ParseEfibootmgr(out), images)
	return ApplyReconcile(plan, device, partition)
}

// buildUKI assembles one unified image with ukify, falling back to a
// bare EFISTUB kernel copy when no stub is installed.
func buildUKI(root, kver, cmdline, output string) error {
	vmlinuz, err := findKernelImage(root, kver)
	if err != nil {
		return err
	}
	initramfs := filepath.Join(root, "boot/initramfs.img")
	osRelease := filepath.Join(root, "etc/os-release")

	if stub := findEFIStub(root); stub != "" {
		_, err := internalUtils.Run("ukify",
			"build",
			"--linux", vmlinuz,
			"--initrd", initramfs,
			"--cmdline", cmdline,
			"--os-release", "@"+osRelease,
			"--stub", stub,
			"--output", output,
		)
		if err != nil {
			return fmt.Errorf("assembling %s: %w", output, err)
		}
		return nil
	}

	internalUtils.Log.Warn().Msg("no EFI stub installed, falling back to a bare EFISTUB kernel")
	if err := copyFile(vmlinuz, output); err != nil {
		return err
	}
	return copyFile(initramfs, filepath.Join(filepath.Dir(output), "initramfs.img"))
}

func findEFIStub(root string) string {
	candidates := []string{
		"usr/lib/systemd/boot/efi/linuxx64.efi.stub",
		"usr/lib/gummiboot/linuxx64.efi.stub",
		"usr/share/systemd-boot/linuxx64.efi.stub",
	}
	for _, c := range candidates {
		path := filepath.Join(root, c)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func findKernelImage(root, kver string) (string, error) {
	candidates := []string{
		filepath.Join(root, "boot", "vmlinuz-"+kver),
		filepath.Join(root, "lib/modules", kver, "vmlinuz"),
		filepath.Join(root, "boot/vmlinuz-linux"),
		filepath.Join(root, "boot/vmlinuz"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: no kernel image for %s", cnst.ErrKernelNotFound, kver)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
