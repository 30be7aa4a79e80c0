package disk

import (
	"fmt"
	"os"
	"path/filepath"

	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

// Subvolume pairs a btrfs subvolume name with its in-target mountpoint.
type Subvolume struct {
	Name       string
	Mountpoint string
}

// SubvolumeLayout is the fixed root layout. Order matters: @ must come
// first so the others mount inside it.
type SubvolumeLayout struct {
	Subvolumes []Subvolume
	Compress   string
}

func DefaultSubvolumeLayout() SubvolumeLayout {
	return SubvolumeLayout{
		Subvolumes: []Subvolume{
			{Name: "@", Mountpoint: "/"},
			{Name: "@home", Mountpoint: "/home"},
			{Name: "@snapshots", Mountpoint: "/.snapshots"},
			{Name: "@var", Mountpoint: "/var"},
			{Name: "@tmp", Mountpoint: "/tmp"},
			{Name: "@swap", Mountpoint: "/swap"},
		},
		Compress: "zstd:1",
	}
}

// MountOptions renders the per-subvolume mount option string.
func (l SubvolumeLayout) MountOptions(s Subvolume) string {
	if s.Name == "@swap" {
		// COW and compression are incompatible with swapfiles.
		return fmt.Sprintf("noatime,nodatacow,subvol=%s", s.Name)
	}
	return fmt.Sprintf("compress=%s,ssd,noatime,subvol=%s", l.Compress, s.Name)
}

// FormatBtrfs creates the filesystem on the opened mapper device.
func FormatBtrfs(device, label string) error {
	if _, err := internalUtils.Run("mkfs.btrfs", "-L", label, "-f", device); err != nil {
		return fmt.Errorf("%w: %s: %v", cnst.ErrFilesystemCreateFailed, device, err)
	}
	return nil
}

// CreateSubvolumes mounts the raw filesystem on a scratch mountpoint,
// creates the layout's subvolumes, marks @swap NOCOW, sets @ as the
// default subvolume, and unmounts.
func CreateSubvolumes(device string, layout SubvolumeLayout) error {
	scratch := "/run/mkos/btrfs-setup"
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return err
	}
	if _, err := internalUtils.Run("mount", device, scratch); err != nil {
		return fmt.Errorf("%w: %s: %v", cnst.ErrMountFailed, device, err)
	}
	defer func() {
		if _, err := internalUtils.Run("umount", scratch); err != nil {
			internalUtils.Log.Warn().Err(err).Str("target", scratch).Msg("releasing scratch mount")
		}
	}()

	for _, sub := range layout.Subvolumes {
		path := filepath.Join(scratch, sub.Name)
		if _, err := internalUtils.Run("btrfs", "subvolume", "create", path); err != nil {
			return fmt.Errorf("%w: subvolume %s: %v", cnst.ErrFilesystemCreateFailed, sub.Name, err)
		}
		if sub.Name == "@swap" {
			if _, err := internalUtils.Run("chattr", "+C", path); err != nil {
				return fmt.Errorf("%w: marking %s NOCOW: %v", cnst.ErrFilesystemCreateFailed, sub.Name, err)
			}
		}
	}

	// Default to @ so a bare mount of the filesystem lands on the root
	// subvolume rather than the top level.
	id, err := internalUtils.Output("btrfs", "inspect-internal", "rootid", filepath.Join(scratch, "@"))
	if err != nil {
		return fmt.Errorf("resolving @ subvolume id: %w", err)
	}
	if _, err := internalUtils.Run("btrfs", "subvolume", "set-default", id, scratch); err != nil {
		return fmt.Errorf("setting default subvolume: %w", err)
	}
	return nil
}
