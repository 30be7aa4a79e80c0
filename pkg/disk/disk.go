package disk

import (
	"fmt"
	"strings"
	"time"

	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

// Layout is the result of partitioning: the ESP and the LUKS container
// partition of the target device.
type Layout struct {
	Device string
	ESP    string
	Luks   string
}

// PartitionName derives the path of partition number n on device,
// accounting for the "p" separator nvme and mmcblk nodes use.
func PartitionName(device string, n int) string {
	if strings.Contains(device, "nvme") || strings.Contains(device, "mmcblk") {
		return fmt.Sprintf("%sp%d", device, n)
	}
	return fmt.Sprintf("%s%d", device, n)
}

// SfdiskScript renders the GPT layout fed to sfdisk: a bootable ESP of
// espSizeMiB followed by a Linux partition spanning the rest.
func SfdiskScript(espSizeMiB int) string {
	return fmt.Sprintf("label: gpt\n,%dM,U,*\n,,L\n", espSizeMiB)
}

// Partition wipes the device and writes the two-partition GPT layout.
// This step is destructive and not idempotent: a failure here needs
// operator confirmation of the disk state before any retry.
func Partition(device string) (*Layout, error) {
	if _, err := internalUtils.Run("wipefs", "--all", device); err != nil {
		return nil, fmt.Errorf("%w: wiping %s: %v", cnst.ErrPartitionFailed, device, err)
	}

	script := SfdiskScript(cnst.ESPSizeMiB)
	if _, err := internalUtils.RunWithStdin([]byte(script), "sfdisk", device); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", cnst.ErrPartitionFailed, device, err)
	}

	// The kernel re-reads the table asynchronously and partprobe is not
	// on every install medium. Settle, then sync.
	time.Sleep(2 * time.Second)
	internalUtils.Sync()

	return &Layout{
		Device: device,
		ESP:    PartitionName(device, 1),
		Luks:   PartitionName(device, 2),
	}, nil
}

// FormatESP creates the FAT32 EFI system partition filesystem.
func FormatESP(partition string) error {
	if _, err := internalUtils.Run("mkfs.fat", "-F", "32", "-n", "MKOS_EFI", partition); err != nil {
		return fmt.Errorf("%w: %s: %v", cnst.ErrFilesystemCreateFailed, partition, err)
	}
	return nil
}
