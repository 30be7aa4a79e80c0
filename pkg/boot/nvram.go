package boot

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/moby/sys/mountinfo"
	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

// Entry is one firmware NVRAM boot record.
type Entry struct {
	Number string
	Active bool
	Label  string
	Loader string
}

// NVRAMState is the decoded efibootmgr view.
type NVRAMState struct {
	BootOrder []string
	Entries   []Entry
}

var bootEntryRe = regexp.MustCompile(`^Boot([0-9A-Fa-f]{4})(\*?)\s+(.+)$`)

// ParseEfibootmgr decodes `efibootmgr` output into a typed state. Lines
// it does not recognize are ignored, unknown entry shapes never abort a
// rebuild.
func ParseEfibootmgr(output string) NVRAMState {
	state := NVRAMState{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "BootOrder:") {
			order := strings.TrimSpace(strings.TrimPrefix(line, "BootOrder:"))
			if order != "" {
				state.BootOrder = strings.Split(order, ",")
			}
			continue
		}
		m := bootEntryRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rest := m[3]
		label := rest
		loader := ""
		// Label and device path are tab separated.
		if idx := strings.IndexByte(rest, '\t'); idx >= 0 {
			label = rest[:idx]
			loader = strings.TrimSpace(rest[idx+1:])
		}
		state.Entries = append(state.Entries, Entry{
			Number: strings.ToUpper(m[1]),
			Active: m[2] == "*",
			Label:  strings.TrimSpace(label),
			Loader: loader,
		})
	}
	return state
}

// Owned returns the entries whose label belongs to this tool, the set
// reconciliation deletes and recreates wholesale.
func (s NVRAMState) Owned() []Entry {
	var owned []Entry
	for _, e := range s.Entries {
		if e.Label == cnst.BootEntryPrefix || strings.HasPrefix(e.Label, cnst.BootEntryPrefix+" ") {
			owned = append(owned, e)
		}
	}
	return owned
}

// ReconcilePlan is what one reconciliation will do: delete every owned
// entry, then create entries for the roles whose image files exist, in
// boot-priority order.
type ReconcilePlan struct {
	Delete []Entry
	Create []Image
}

// PlanReconcile computes the reconciliation against the current NVRAM
// state. Entries are never patched in place; stale or duplicated owned
// entries all fall in Delete.
func PlanReconcile(state NVRAMState, images []Image) ReconcilePlan {
	plan := ReconcilePlan{Delete: state.Owned()}
	present := make([]Image, 0, len(images))
	for _, img := range images {
		if _, err := os.Stat(img.Path); err == nil {
			present = append(present, img)
		}
	}
	sort.SliceStable(present, func(i, j int) bool {
		return present[i].Role.order() < present[j].Role.order()
	})
	plan.Create = present
	return plan
}

// UEFIAvailable reports whether the running system can reach firmware
// variables at all.
func UEFIAvailable() bool {
	_, err := os.Stat(cnst.EFIVars)
	return err == nil
}

// ESPDevice derives the disk and partition number backing the mounted
// ESP from the mount table.
func ESPDevice(espMount string) (string, int, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(espMount))
	if err != nil {
		return "", 0, fmt.Errorf("reading mount table: %w", err)
	}
	if len(mounts) == 0 {
		return "", 0, fmt.Errorf("%w: %s is not a mountpoint", cnst.ErrBootEntryReconcile, espMount)
	}
	source := mounts[0].Source
	return splitPartition(source)
}

var partitionRe = regexp.MustCompile(`^(/dev/[a-z0-9/]+?)p?([0-9]+)$`)

func splitPartition(source string) (string, int, error) {
	m := partitionRe.FindStringSubmatch(source)
	if m == nil {
		return "", 0, fmt.Errorf("%w: cannot derive disk from %s", cnst.ErrBootEntryReconcile, source)
	}
	var part int
	fmt.Sscanf(m[2], "%d", &part)
	return m[1], part, nil
}

// ApplyReconcile executes a plan with efibootmgr and then forces the
// boot order to lead with the owned entries in role order.
func ApplyReconcile(plan ReconcilePlan, disk string, partition int) error {
	for _, e := range plan.Delete {
		if _, err := internalUtils.Run("efibootmgr", "--quiet", "--bootnum", e.Number, "--delete-bootnum"); err != nil {
			return fmt.Errorf("%w: deleting entry %s: %v", cnst.ErrBootEntryReconcile, e.Number, err)
		}
	}
	for _, img := range plan.Create {
		loader := "\\" + strings.ReplaceAll(strings.TrimPrefix(img.ESPPath, "/"), "/", "\\")
		_, err := internalUtils.Run("efibootmgr",
			"--quiet",
			"--create",
			"--disk", disk,
			"--part", fmt.Sprintf("%d", partition),
			"--label", img.Role.Label(),
			"--loader", loader,
		)
		if err != nil {
			return fmt.Errorf("%w: creating entry %s: %v", cnst.ErrBootEntryReconcile, img.Role.Label(), err)
		}
	}
	return reorderBoot(plan)
}

// reorderBoot reads the post-creation state and writes a boot order with
// the owned entries first, preserving the relative order of the rest.
func reorderBoot(plan ReconcilePlan) error {
	out, err := internalUtils.Output("efibootmgr")
	if err != nil {
		return fmt.Errorf("%w: reading NVRAM: %v", cnst.ErrBootEntryReconcile, err)
	}
	state := ParseEfibootmgr(out)

	byLabel := map[string]string{}
	for _, e := range state.Owned() {
		byLabel[e.Label] = e.Number
	}
	var order []string
	for _, img := range plan.Create {
		if num, ok := byLabel[img.Role.Label()]; ok {
			order = append(order, num)
		}
	}
	owned := map[string]bool{}
	for _, num := range order {
		owned[num] = true
	}
	for _, num := range state.BootOrder {
		if !owned[strings.ToUpper(num)] {
			order = append(order, num)
		}
	}
	if len(order) == 0 {
		return nil
	}
	if _, err := internalUtils.Run("efibootmgr", "--quiet", "--bootorder", strings.Join(order, ",")); err != nil {
		return fmt.Errorf("%w: setting boot order: %v", cnst.ErrBootEntryReconcile, err)
	}
	return nil
}
