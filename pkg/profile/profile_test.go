package profile_test

import (
	"os"
	"path/filepath"

	"github.com/monokrome/mkOS/pkg/profile"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"
)

var _ = Describe("distro profiles", func() {
	Context("Registry", func() {
		It("covers the supported set", func() {
			ids := []string{}
			for _, p := range profile.Registry() {
				ids = append(ids, p.ID)
			}
			Expect(ids).To(ConsistOf("artix", "void", "slackware", "alpine", "gentoo", "devuan"))
		})
		It("gives every profile a marker and a package manager", func() {
			for _, p := range profile.Registry() {
				Expect(p.Marker).ToNot(BeEmpty(), p.ID)
				Expect(p.PackageManager).ToNot(BeEmpty(), p.ID)
				Expect(p.KernelPackage).ToNot(BeEmpty(), p.ID)
			}
		})
		It("names a strap tool wherever the bootstrap needs one", func() {
			for _, p := range profile.Registry() {
				if p.Bootstrap == profile.BootstrapStrap {
					Expect(p.StrapTool).ToNot(BeEmpty(), p.ID)
				}
			}
		})
	})

	Context("ByID", func() {
		It("finds gentoo", func() {
			p, err := profile.ByID("gentoo")
			Expect(err).ToNot(HaveOccurred())
			Expect(p.Bootstrap).To(Equal(profile.BootstrapStage3))
			Expect(p.Init).To(Equal(profile.InitOpenRC))
		})
		It("errors on unknown ids", func() {
			_, err := profile.ByID("plan9")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Detect", func() {
		var root string

		BeforeEach(func() {
			var err error
			root, err = os.MkdirTemp("", "mkos-detect")
			Expect(err).ToNot(HaveOccurred())
			Expect(os.MkdirAll(filepath.Join(root, "etc"), os.ModePerm)).To(Succeed())
		})
		AfterEach(func() {
			os.RemoveAll(root)
		})

		It("detects void from its marker file", func() {
			err := os.WriteFile(filepath.Join(root, "etc/void-release"), []byte("void\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())
			p, ok := profile.Detect(root)
			Expect(ok).To(BeTrue())
			Expect(p.ID).To(Equal("void"))
		})
		It("falls back to the os-release ID field", func() {
			err := os.WriteFile(filepath.Join(root, "etc/os-release"), []byte("ID=alpine\nNAME=\"Alpine Linux\"\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())
			p, ok := profile.Detect(root)
			Expect(ok).To(BeTrue())
			Expect(p.ID).To(Equal("alpine"))
		})
		It("reports no match on an empty root", func() {
			_, ok := profile.Detect(root)
			Expect(ok).To(BeFalse())
		})
	})

	Context("DetectFS", func() {
		It("prefers the marker over os-release", func() {
			fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
				"/etc/artix-release": "Artix release\n",
				"/etc/os-release":    "ID=arch\n",
			})
			Expect(err).ToNot(HaveOccurred())
			defer cleanup()

			p, ok := profile.DetectFS(fs, "/")
			Expect(ok).To(BeTrue())
			Expect(p.ID).To(Equal("artix"))
		})
		It("reads os-release when no marker matches", func() {
			fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
				"/etc/os-release": "ID=devuan\nNAME=\"Devuan GNU/Linux\"\n",
			})
			Expect(err).ToNot(HaveOccurred())
			defer cleanup()

			p, ok := profile.DetectFS(fs, "/")
			Expect(ok).To(BeTrue())
			Expect(p.ID).To(Equal("devuan"))
		})
	})

	Context("MapPackages", func() {
		It("maps gentoo names into category/name form", func() {
			p, err := profile.ByID("gentoo")
			Expect(err).ToNot(HaveOccurred())
			installable, unmapped := p.MapPackages([]string{"cryptsetup", "btrfs-progs"})
			Expect(unmapped).To(BeEmpty())
			Expect(installable).To(ConsistOf("sys-fs/cryptsetup", "sys-fs/btrfs-progs"))
		})
		It("collects names no table covers instead of failing", func() {
			p, err := profile.ByID("slackware")
			Expect(err).ToNot(HaveOccurred())
			installable, unmapped := p.MapPackages([]string{"openssh", "display-manager-greetd"})
			Expect(installable).To(ConsistOf("openssh"))
			Expect(unmapped).To(ConsistOf("display-manager-greetd"))
		})
	})

	Context("MergeMappings", func() {
		It("overlays site tables on the baseline", func() {
			tmpDir, err := os.MkdirTemp("", "")
			Expect(err).ToNot(HaveOccurred())
			defer os.RemoveAll(tmpDir)
			table := filepath.Join(tmpDir, "void.env")
			err = os.WriteFile(table, []byte("linux-kernel=linux6.6\nzfs=zfs\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())

			p, err := profile.ByID("void")
			Expect(err).ToNot(HaveOccurred())
			Expect(p.MergeMappings(table)).To(Succeed())
			installable, unmapped := p.MapPackages([]string{"linux-kernel", "zfs", "dracut"})
			Expect(unmapped).To(BeEmpty())
			Expect(installable).To(ConsistOf("linux6.6", "zfs", "dracut"))
		})
	})
})
