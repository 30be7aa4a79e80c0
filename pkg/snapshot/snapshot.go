package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/boot"
)

// Kind labels why a snapshot was taken.
type Kind string

const (
	KindPreUpgrade Kind = "pre-upgrade"
	KindPreApply   Kind = "pre-apply"
	KindManual     Kind = "manual"
)

// Snapshot is one read-only copy of the root subvolume under
// /.snapshots. The directory listing is the only record; nothing is
// cached between invocations.
type Snapshot struct {
	Name    string
	Kind    Kind
	Created time.Time
}

const timeLayout = "20060102T150405Z"

// NewName builds a snapshot name from its kind and the current time.
func NewName(kind Kind, now time.Time) string {
	return fmt.Sprintf("%s-%s", kind, now.UTC().Format(timeLayout))
}

// ParseName splits a snapshot name back into kind and creation time.
// Names from other tools come back as KindManual with a zero time.
func ParseName(name string) Snapshot {
	s := Snapshot{Name: name, Kind: KindManual}
	for _, kind := range []Kind{KindPreUpgrade, KindPreApply, KindManual} {
		prefix := string(kind) + "-"
		if strings.HasPrefix(name, prefix) {
			if t, err := time.Parse(timeLayout, strings.TrimPrefix(name, prefix)); err == nil {
				s.Kind = kind
				s.Created = t
			}
			break
		}
	}
	return s
}

// Create takes a read-only snapshot of the root subvolume.
func Create(root string, kind Kind) (*Snapshot, error) {
	dir := filepath.Join(root, cnst.SnapshotsDir)
	if err := internalUtils.CreateIfNotExists(dir); err != nil {
		return nil, err
	}
	name := NewName(kind, time.Now())
	path := filepath.Join(dir, name)
	if _, err := internalUtils.Run("btrfs", "subvolume", "snapshot", "-r", root, path); err != nil {
		return nil, fmt.Errorf("creating snapshot %s: %w", name, err)
	}
	internalUtils.Log.Info().Str("snapshot", name).Msg("created snapshot")
	s := ParseName(name)
	return &s, nil
}

// List enumerates the snapshots, newest first.
func List(root string) ([]Snapshot, error) {
	dir := filepath.Join(root, cnst.SnapshotsDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var snapshots []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snapshots = append(snapshots, ParseName(e.Name()))
	}
	sort.SliceStable(snapshots, func(i, j int) bool {
		if !snapshots[i].Created.Equal(snapshots[j].Created) {
			return snapshots[i].Created.After(snapshots[j].Created)
		}
		return snapshots[i].Name > snapshots[j].Name
	})
	return snapshots, nil
}

// InUse reports whether the fallback boot image currently references the
// snapshot.
func InUse(root, name string) bool {
	subvol := boot.FallbackSubvol(root)
	return subvol != "" && subvol == "@snapshots/"+name
}

// Delete removes one snapshot. A snapshot the fallback image points at
// is refused unless force is set, since deleting it would leave the
// fallback entry unbootable.
func Delete(root, name string, force bool) error {
	path := filepath.Join(root, cnst.SnapshotsDir, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", cnst.ErrSnapshotNotFound, name)
	}
	if InUse(root, name) && !force {
		return fmt.Errorf("%w: fallback boot image references %s", cnst.ErrSnapshotInUse, name)
	}
	if _, err := internalUtils.Run("btrfs", "subvolume", "delete", path); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", name, err)
	}
	return nil
}

// Rollback repoints the fallback boot image at the snapshot. The live
// filesystem is never touched; the operator reboots into the fallback
// entry to actually run the snapshot.
func Rollback(root, name string, extraCmdline []string) error {
	path := filepath.Join(root, cnst.SnapshotsDir, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", cnst.ErrSnapshotNotFound, name)
	}
	return boot.RepointFallback(root, "@snapshots/"+name, extraCmdline)
}
