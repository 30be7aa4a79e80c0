package boot_test

import (
	"os"
	"path/filepath"

	"github.com/monokrome/mkOS/pkg/boot"
	"github.com/monokrome/mkOS/pkg/disk"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("kernel resolution", func() {
	Context("CompareKernelVersions", func() {
		It("orders numerically per field", func() {
			Expect(boot.CompareKernelVersions("6.6.2", "6.6.10")).To(BeNumerically("<", 0))
			Expect(boot.CompareKernelVersions("6.10.0", "6.9.9")).To(BeNumerically(">", 0))
			Expect(boot.CompareKernelVersions("6.6.1", "6.6.1")).To(Equal(0))
		})
		It("handles distro suffixes", func() {
			Expect(boot.CompareKernelVersions("6.6.1-artix1-1", "6.6.1")).To(BeNumerically(">", 0))
			Expect(boot.CompareKernelVersions("6.6.1-artix2", "6.6.1-artix10")).To(BeNumerically("<", 0))
		})
	})

	Context("LatestKernel", func() {
		var root string

		BeforeEach(func() {
			var err error
			root, err = os.MkdirTemp("", "mkos-kernel")
			Expect(err).ToNot(HaveOccurred())
		})
		AfterEach(func() {
			os.RemoveAll(root)
		})

		It("picks the version-sorted maximum, not the directory order", func() {
			for _, v := range []string{"6.6.2", "6.6.10", "6.5.9"} {
				Expect(os.MkdirAll(filepath.Join(root, "lib/modules", v), 0o755)).To(Succeed())
			}
			Expect(boot.LatestKernel(root)).To(Equal("6.6.10"))
		})
		It("errors on an empty module tree", func() {
			Expect(os.MkdirAll(filepath.Join(root, "lib/modules"), 0o755)).To(Succeed())
			_, err := boot.LatestKernel(root)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("command line derivation", func() {
	entry := &disk.CrypttabEntry{
		Name:    "cryptroot",
		Device:  "UUID=1234-ABCD",
		Keyfile: "none",
		Options: []string{"luks"},
	}

	It("derives the exact root command line", func() {
		Expect(boot.Cmdline(entry, "@", nil)).To(Equal(
			"rd.luks.uuid=1234-ABCD root=/dev/mapper/cryptroot rootflags=subvol=@ rw quiet",
		))
	})
	It("appends extra arguments last", func() {
		cmdline := boot.Cmdline(entry, "@", []string{"mitigations=auto", "loglevel=3"})
		Expect(cmdline).To(HaveSuffix("rw quiet mitigations=auto loglevel=3"))
	})
	It("uses rd.luks.name for plain device specs", func() {
		plain := &disk.CrypttabEntry{Name: "cryptroot", Device: "/dev/sda2", Keyfile: "none", Options: []string{"luks"}}
		Expect(boot.Cmdline(plain, "@", nil)).To(ContainSubstring("rd.luks.name=/dev/sda2=cryptroot"))
	})
	It("round-trips the subvolume through a stored command line", func() {
		cmdline := boot.Cmdline(entry, "@snapshots/pre-upgrade-20250830T120000Z", nil)
		Expect(boot.SubvolFromCmdline(cmdline)).To(Equal("@snapshots/pre-upgrade-20250830T120000Z"))
	})
	It("returns empty for command lines without rootflags", func() {
		Expect(boot.SubvolFromCmdline("root=/dev/sda1 rw")).To(Equal(""))
	})
})

var _ = Describe("roles and images", func() {
	It("names the main image after its kernel and keeps the others fixed", func() {
		Expect(boot.RoleMain.Filename("6.6.1")).To(Equal("mkos-6.6.1.efi"))
		Expect(boot.RoleFallback.Filename("6.6.1")).To(Equal("mkos-fallback.efi"))
		Expect(boot.RoleRescue.Filename("6.6.1")).To(Equal("mkos-rescue.efi"))
	})
	It("owns exactly the three labels", func() {
		Expect(boot.RoleMain.Label()).To(Equal("mkOS"))
		Expect(boot.RoleFallback.Label()).To(Equal("mkOS (fallback)"))
		Expect(boot.RoleRescue.Label()).To(Equal("mkOS (rescue)"))
	})

	Context("sidecars", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "mkos-sidecar")
			Expect(err).ToNot(HaveOccurred())
		})
		AfterEach(func() {
			os.RemoveAll(dir)
		})

		It("records and reads back the embedded command line", func() {
			img := boot.Image{
				Role:    boot.RoleMain,
				Kernel:  "6.6.1",
				Path:    filepath.Join(dir, "mkos-6.6.1.efi"),
				Cmdline: "rd.luks.uuid=1234-ABCD root=/dev/mapper/cryptroot rootflags=subvol=@ rw quiet",
			}
			Expect(img.WriteSidecar()).To(Succeed())
			Expect(boot.ReadSidecar(dir, boot.RoleMain, "6.6.1")).To(Equal(img.Cmdline))
		})
		It("reads empty when no record exists", func() {
			Expect(boot.ReadSidecar(dir, boot.RoleFallback, "")).To(Equal(""))
		})
	})
})

var _ = Describe("NVRAM reconciliation", func() {
	sample := "BootCurrent: 0001\n" +
		"Timeout: 1 seconds\n" +
		"BootOrder: 0003,0001,0000\n" +
		"Boot0000* Windows Boot Manager\tHD(1,GPT,aaaa)/File(\\EFI\\Microsoft\\bootmgfw.efi)\n" +
		"Boot0001* mkOS\tHD(1,GPT,bbbb)/File(\\mkos-6.6.1.efi)\n" +
		"Boot0002  mkOS (fallback)\tHD(1,GPT,bbbb)/File(\\mkos-fallback.efi)\n" +
		"Boot0003* mkOS (rescue)\tHD(1,GPT,bbbb)/File(\\mkos-rescue.efi)\n"

	Context("ParseEfibootmgr", func() {
		It("decodes entries, order and active flags", func() {
			state := boot.ParseEfibootmgr(sample)
			Expect(state.BootOrder).To(Equal([]string{"0003", "0001", "0000"}))
			Expect(state.Entries).To(HaveLen(4))
			Expect(state.Entries[1].Label).To(Equal("mkOS"))
			Expect(state.Entries[1].Active).To(BeTrue())
			Expect(state.Entries[2].Active).To(BeFalse())
		})
		It("ignores unrecognized lines", func() {
			state := boot.ParseEfibootmgr("garbage\nBootNext: 0001\n")
			Expect(state.Entries).To(BeEmpty())
		})
	})

	Context("Owned", func() {
		It("selects only the labels this tool manages", func() {
			owned := boot.ParseEfibootmgr(sample).Owned()
			Expect(owned).To(HaveLen(3))
			for _, e := range owned {
				Expect(e.Label).To(HavePrefix("mkOS"))
			}
		})
		It("does not claim foreign labels sharing the prefix string", func() {
			state := boot.ParseEfibootmgr("Boot0004* mkOSomethingElse\tHD(...)\n")
			Expect(state.Owned()).To(BeEmpty())
		})
	})

	Context("PlanReconcile", func() {
		var dir string
		var images []boot.Image

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "mkos-plan")
			Expect(err).ToNot(HaveOccurred())
			images = []boot.Image{
				{Role: boot.RoleRescue, Path: filepath.Join(dir, "mkos-rescue.efi"), ESPPath: "/mkos-rescue.efi"},
				{Role: boot.RoleMain, Path: filepath.Join(dir, "mkos-6.6.1.efi"), ESPPath: "/mkos-6.6.1.efi"},
				{Role: boot.RoleFallback, Path: filepath.Join(dir, "mkos-fallback.efi"), ESPPath: "/mkos-fallback.efi"},
			}
		})
		AfterEach(func() {
			os.RemoveAll(dir)
		})

		touch := func(name string) {
			Expect(os.WriteFile(filepath.Join(dir, name), []byte{0}, 0o644)).To(Succeed())
		}

		It("deletes every owned entry and recreates for files that exist", func() {
			touch("mkos-6.6.1.efi")
			touch("mkos-fallback.efi")
			touch("mkos-rescue.efi")

			plan := boot.PlanReconcile(boot.ParseEfibootmgr(sample), images)
			Expect(plan.Delete).To(HaveLen(3))
			Expect(plan.Create).To(HaveLen(3))
			Expect(plan.Create[0].Role).To(Equal(boot.RoleMain))
			Expect(plan.Create[1].Role).To(Equal(boot.RoleFallback))
			Expect(plan.Create[2].Role).To(Equal(boot.RoleRescue))
		})

		It("creates only main and rescue when no fallback image exists", func() {
			touch("mkos-6.6.1.efi")
			touch("mkos-rescue.efi")

			plan := boot.PlanReconcile(boot.ParseEfibootmgr("BootOrder:\n"), images)
			Expect(plan.Delete).To(BeEmpty())
			Expect(plan.Create).To(HaveLen(2))
			Expect(plan.Create[0].Role).To(Equal(boot.RoleMain))
			Expect(plan.Create[1].Role).To(Equal(boot.RoleRescue))
		})

		It("converges: planning twice over the same state is identical", func() {
			touch("mkos-6.6.1.efi")
			touch("mkos-fallback.efi")
			touch("mkos-rescue.efi")

			first := boot.PlanReconcile(boot.ParseEfibootmgr(sample), images)
			second := boot.PlanReconcile(boot.ParseEfibootmgr(sample), images)
			Expect(second).To(Equal(first))
		})
	})
})

var _ = Describe("initramfs configuration", func() {
	It("forces the decrypt and root filesystem modules", func() {
		conf := boot.DracutConf(nil)
		Expect(conf).To(ContainSubstring(`force_add_dracutmodules+=" dm crypt btrfs "`))
		Expect(conf).To(ContainSubstring(`add_drivers+=" dm_mod dm_crypt "`))
		Expect(conf).To(ContainSubstring(`install_items+=" /etc/crypttab "`))
	})
	It("appends probed host drivers", func() {
		conf := boot.DracutConf([]string{"xhci_pci", "thunderbolt"})
		Expect(conf).To(ContainSubstring(`add_drivers+=" xhci_pci thunderbolt "`))
	})
})

var _ = Describe("secure boot material", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "mkos-sb")
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("reports missing keys without error", func() {
		_, _, ok := boot.SigningKeys(dir)
		Expect(ok).To(BeFalse())
	})
	It("finds a complete db pair", func() {
		Expect(os.WriteFile(filepath.Join(dir, "db.key"), []byte("k"), 0o600)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "db.crt"), []byte("c"), 0o644)).To(Succeed())
		key, cert, ok := boot.SigningKeys(dir)
		Expect(ok).To(BeTrue())
		Expect(key).To(HaveSuffix("db.key"))
		Expect(cert).To(HaveSuffix("db.crt"))
	})
	It("treats a lone key as missing", func() {
		Expect(os.WriteFile(filepath.Join(dir, "db.key"), []byte("k"), 0o600)).To(Succeed())
		_, _, ok := boot.SigningKeys(dir)
		Expect(ok).To(BeFalse())
	})

	It("writes the startup.nsh fallback with backslash paths", func() {
		Expect(boot.WriteStartupNSH(dir, "/mkos-6.6.1.efi")).To(Succeed())
		content, err := os.ReadFile(filepath.Join(dir, "startup.nsh"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(ContainSubstring(`\mkos-6.6.1.efi`))
	})
})
