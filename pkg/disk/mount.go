package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/containerd/mount"
	"github.com/deniswernert/go-fstab"
	"github.com/hashicorp/go-multierror"
	"github.com/moby/sys/mountinfo"
	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

type mountOperation struct {
	FstabEntry  fstab.Mount
	MountOption mount.Mount
	Target      string
}

func (m mountOperation) run() error {
	mounted, err := mountinfo.Mounted(m.Target)
	if err != nil {
		internalUtils.Log.Err(err).Str("target", m.Target).Msg("checking mount status")
		return err
	}
	if mounted {
		internalUtils.Log.Debug().Str("target", m.Target).Msg("already mounted")
		return cnst.ErrAlreadyMounted
	}
	if err := os.MkdirAll(m.Target, 0o755); err != nil {
		return err
	}
	return mount.All([]mount.Mount{m.MountOption}, m.Target)
}

// MountSet is the scoped mount hierarchy of one provisioning run: the
// subvolumes under target plus the ESP at target/boot. Unmount releases
// everything in strict reverse order on every exit path.
type MountSet struct {
	Target string
	ops    []mountOperation
}

// MountAll mounts the full layout under target: @ first, the remaining
// subvolumes in path-depth order, then the ESP at /boot.
func MountAll(layout *Layout, mapper string, subvols SubvolumeLayout, target string) (*MountSet, error) {
	set := &MountSet{Target: target}

	ordered := make([]Subvolume, len(subvols.Subvolumes))
	copy(ordered, subvols.Subvolumes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return strings.Count(ordered[i].Mountpoint, "/") < strings.Count(ordered[j].Mountpoint, "/")
	})

	for _, sub := range ordered {
		opts := strings.Split(subvols.MountOptions(sub), ",")
		op := mountOperation{
			MountOption: mount.Mount{Type: "btrfs", Source: mapper, Options: opts},
			Target:      filepath.Join(target, sub.Mountpoint),
		}
		entry := internalUtils.MountToFstab(op.MountOption)
		entry.File = sub.Mountpoint
		op.FstabEntry = *entry
		if err := op.run(); err != nil {
			set.Unmount()
			return nil, fmt.Errorf("%w: %s: %v", cnst.ErrMountFailed, op.Target, err)
		}
		set.ops = append(set.ops, op)
	}

	espOp := mountOperation{
		MountOption: mount.Mount{Type: "vfat", Source: layout.ESP, Options: []string{"umask=0077"}},
		Target:      filepath.Join(target, cnst.BootDir),
	}
	espEntry := internalUtils.MountToFstab(espOp.MountOption)
	espEntry.File = cnst.BootDir
	espEntry.PassNo = 2
	espOp.FstabEntry = *espEntry
	if err := espOp.run(); err != nil {
		set.Unmount()
		return nil, fmt.Errorf("%w: %s: %v", cnst.ErrMountFailed, espOp.Target, err)
	}
	set.ops = append(set.ops, espOp)

	return set, nil
}

// WriteFstab renders the accumulated entries into the target's /etc/fstab.
func (s *MountSet) WriteFstab() error {
	var mounts fstab.Mounts
	for i := range s.ops {
		entry := s.ops[i].FstabEntry
		mounts = append(mounts, &entry)
	}
	path := filepath.Join(s.Target, "etc", "fstab")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(mounts.String()+"\n"), 0o644)
}

// Unmount releases the set in reverse mount order. Failures are collected,
// not short-circuited, so one busy mount does not leak the rest.
func (s *MountSet) Unmount() error {
	var result *multierror.Error
	for i := len(s.ops) - 1; i >= 0; i-- {
		target := s.ops[i].Target
		mounted, err := mountinfo.Mounted(target)
		if err == nil && !mounted {
			continue
		}
		if err := mount.UnmountAll(target, 0); err != nil {
			internalUtils.Log.Err(err).Str("target", target).Msg("unmounting")
			result = multierror.Append(result, fmt.Errorf("unmounting %s: %w", target, err))
		}
	}
	return result.ErrorOrNil()
}
