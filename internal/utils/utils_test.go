package utils_test

import (
	"github.com/containerd/containerd/mount"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/monokrome/mkOS/internal/utils"
)

var _ = Describe("common utils", func() {
	Context("UniqueSlice", func() {
		It("Removes duplicates", func() {
			dups := []string{"dm", "crypt", "btrfs", "dm", "crypt"}
			Expect(utils.UniqueSlice(dups)).To(Equal([]string{"dm", "crypt", "btrfs"}))
		})
	})
	Context("CleanupSlice", func() {
		It("Cleans up the slice of empty values", func() {
			slice := []string{"", " ", "virtio_blk"}
			Expect(utils.CleanupSlice(slice)).To(Equal([]string{"virtio_blk"}))
		})
	})
	Context("ReadEnv", func() {
		It("Parses an os-release style file", func() {
			fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
				"/etc/os-release": "ID=artix\nNAME=\"Artix Linux\"\nID_LIKE=arch\n",
			})
			Expect(err).ToNot(HaveOccurred())
			defer cleanup()

			env, err := utils.ReadEnvFS(fs, "/etc/os-release")
			Expect(err).ToNot(HaveOccurred())
			Expect(env["ID"]).To(Equal("artix"))
			Expect(env["NAME"]).To(Equal("Artix Linux"))
			Expect(env["ID_LIKE"]).To(Equal("arch"))
		})
		It("Errors on a missing file", func() {
			fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{})
			Expect(err).ToNot(HaveOccurred())
			defer cleanup()

			_, err = utils.ReadEnvFS(fs, "/etc/os-release")
			Expect(err).To(HaveOccurred())
		})
	})
	Context("MountToFstab", func() {
		It("Generates the proper fstab config", func() {
			m := mount.Mount{
				Type:    "btrfs",
				Source:  "/dev/mapper/cryptroot",
				Options: []string{"noatime", "subvol=@home"},
			}
			entry := utils.MountToFstab(m)
			entry.File = "/home"
			Expect(entry.String()).To(MatchRegexp("/dev/mapper/cryptroot /home btrfs (noatime|subvol=@home),(subvol=@home|noatime) 0 0"))
			Expect(entry.Spec).To(Equal("/dev/mapper/cryptroot"))
			Expect(entry.VfsType).To(Equal("btrfs"))
			Expect(entry.MntOps).To(HaveKey("noatime"))
			Expect(entry.MntOps["noatime"]).To(Equal(""))
			Expect(entry.MntOps["subvol"]).To(Equal("@home"))
		})
	})
})
