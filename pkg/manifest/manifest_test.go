package manifest_test

import (
	"errors"
	"os"
	"path/filepath"

	cnst "github.com/monokrome/mkOS/internal/constants"
	"github.com/monokrome/mkOS/pkg/manifest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("install manifest", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "mkos-manifest")
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	write := func(content string) string {
		path := filepath.Join(tmpDir, "manifest.yaml")
		Expect(os.WriteFile(path, []byte(content), os.ModePerm)).To(Succeed())
		return path
	}

	Context("Load", func() {
		It("decodes a full manifest", func() {
			path := write(`
device: /dev/nvme0n1
distro: void
hostname: workstation
users:
  dev:
    groups: [wheel, video]
packages: [openssh, iwd]
services:
  enable: [sshd, dhcpcd]
encryption:
  passphrase: hunter2
  argon2id_time_ms: 4000
extra_cmdline: [mitigations=auto]
`)
			m, err := manifest.Load(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(m.Device).To(Equal("/dev/nvme0n1"))
			Expect(m.Distro).To(Equal("void"))
			Expect(m.Users["dev"].Groups).To(ConsistOf("wheel", "video"))
			Expect(m.Encryption.TimeMS).To(Equal(4000))
			Expect(m.ExtraCmdline).To(ConsistOf("mitigations=auto"))
		})
		It("fills defaults for omitted fields", func() {
			path := write("device: /dev/sda\nencryption:\n  passphrase: x\nusers:\n  op: {}\n")
			m, err := manifest.Load(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(m.Distro).To(Equal("artix"))
			Expect(m.Hostname).To(Equal("mkos"))
			Expect(m.Timezone).To(Equal("UTC"))
			Expect(m.Locale).To(Equal("en_US.UTF-8"))
			Expect(m.Keymap).To(Equal("us"))
			Expect(m.Users["op"].Shell).To(Equal("/bin/sh"))
		})
		It("rejects malformed yaml", func() {
			path := write("device: [unterminated\n")
			_, err := manifest.Load(path)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Validate", func() {
		It("requires a device", func() {
			m := &manifest.InstallManifest{Distro: "artix", Encryption: manifest.Encryption{Passphrase: "x"}}
			Expect(m.Validate()).To(MatchError(ContainSubstring("device")))
		})
		It("rejects unknown distros", func() {
			m := &manifest.InstallManifest{Device: "/dev/sda", Distro: "hurd", Encryption: manifest.Encryption{Passphrase: "x"}}
			Expect(m.Validate()).To(MatchError(ContainSubstring("hurd")))
		})
		It("requires key material", func() {
			m := &manifest.InstallManifest{Device: "/dev/sda", Distro: "artix"}
			err := m.Validate()
			Expect(errors.Is(err, cnst.ErrEncryptionSetupFailed)).To(BeTrue())
		})
		It("requires an existing keyfile when one is named", func() {
			m := &manifest.InstallManifest{
				Device:     "/dev/sda",
				Distro:     "artix",
				Encryption: manifest.Encryption{Keyfile: filepath.Join(tmpDir, "missing.key")},
			}
			Expect(m.Validate()).To(HaveOccurred())
		})
		It("accepts a keyfile that exists", func() {
			keyfile := filepath.Join(tmpDir, "root.key")
			Expect(os.WriteFile(keyfile, []byte("secret"), 0o600)).To(Succeed())
			m := &manifest.InstallManifest{
				Device:     "/dev/sda",
				Distro:     "artix",
				Encryption: manifest.Encryption{Keyfile: keyfile},
			}
			Expect(m.Validate()).To(Succeed())
		})
	})
})
