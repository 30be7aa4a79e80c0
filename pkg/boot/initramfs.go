package boot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mudler/go-kdetect"
	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

// DracutConf renders the dracut configuration dropped into the target.
// dm, crypt and btrfs are force-added: their detection checks fail on
// install media that boot without them, yet every installed system needs
// all three to reach its root.
func DracutConf(probedDrivers []string) string {
	var b strings.Builder
	b.WriteString("force_add_dracutmodules+=\" dm crypt btrfs \"\n")
	b.WriteString("add_dracutmodules+=\" rootfs-block \"\n")
	b.WriteString("early_microcode=yes\n")
	b.WriteString("add_drivers+=\" dm_mod dm_crypt \"\n")
	b.WriteString("add_drivers+=\" virtio virtio_blk virtio_pci virtio_scsi nvme ahci sd_mod \"\n")
	if len(probedDrivers) > 0 {
		b.WriteString(fmt.Sprintf("add_drivers+=\" %s \"\n", strings.Join(probedDrivers, " ")))
	}
	b.WriteString("filesystems+=\" btrfs ext4 vfat \"\n")
	b.WriteString("compress=\"zstd\"\n")
	b.WriteString("install_items+=\" /etc/crypttab \"\n")
	return b.String()
}

// WriteDracutConf probes the host's loaded modules so the image covers
// the hardware the system was installed on, then writes the conf into
// the target.
func WriteDracutConf(root string) error {
	drivers, err := kdetect.ProbeKernelModules("")
	if err != nil {
		internalUtils.Log.Warn().Err(err).Msg("probing host kernel modules, continuing with the static set")
		drivers = nil
	}
	drivers = internalUtils.UniqueSlice(internalUtils.CleanupSlice(drivers))

	confDir := filepath.Join(root, "etc/dracut.conf.d")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(confDir, "mkos.conf"), []byte(DracutConf(drivers)), 0o644)
}

// BuildInitramfs runs dracut chrooted for kver and verifies the result
// actually carries the decrypt and root filesystem modules. A missing
// module means an unbootable system, so verification failure is fatal.
func BuildInitramfs(root, kver string) error {
	chroot := internalUtils.NewChroot(root)
	cmd := fmt.Sprintf(
		"dracut --force --hostonly --kver %s --force-add dm --force-add crypt --force-add btrfs --add-drivers dm_mod --add-drivers dm_crypt /boot/initramfs.img",
		kver,
	)
	if out, err := chroot.Run(cmd); err != nil {
		internalUtils.Log.Err(err).Str("output", out).Msg("dracut failed")
		return fmt.Errorf("running dracut for %s: %w", kver, err)
	}
	return VerifyInitramfs(filepath.Join(root, "boot/initramfs.img"))
}

// VerifyInitramfs checks the image listing for the required modules.
func VerifyInitramfs(image string) error {
	out, err := internalUtils.Run("lsinitrd", image)
	if err != nil {
		return fmt.Errorf("%w: lsinitrd %s: %v", cnst.ErrInitramfsVerification, image, err)
	}
	for _, module := range cnst.RequiredInitramfsModules() {
		if !strings.Contains(out, module+".ko") {
			return fmt.Errorf("%w: %s missing from %s", cnst.ErrInitramfsVerification, module, image)
		}
	}
	return nil
}
