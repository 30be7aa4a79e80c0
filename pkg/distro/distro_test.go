package distro_test

import (
	"os"
	"path/filepath"

	"github.com/monokrome/mkOS/pkg/distro"
	"github.com/monokrome/mkOS/pkg/manifest"
	"github.com/monokrome/mkOS/pkg/profile"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("stage3 bootstrap helpers", func() {
	Context("GentooArch", func() {
		It("maps kernel machine names to release arches", func() {
			Expect(distro.GentooArch("x86_64")).To(Equal("amd64"))
			Expect(distro.GentooArch("aarch64")).To(Equal("arm64"))
		})
		It("rejects machines without autobuilds", func() {
			_, err := distro.GentooArch("riscv64")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("ParseLatestStage3", func() {
		It("finds the tarball path past the comment header", func() {
			index := "# Latest as of Sat, 30 Aug 2025\n# ts=1756500000\n20250824T165238Z/stage3-amd64-openrc-20250824T165238Z.tar.xz 270000000\n"
			path, err := distro.ParseLatestStage3(index)
			Expect(err).ToNot(HaveOccurred())
			Expect(path).To(Equal("20250824T165238Z/stage3-amd64-openrc-20250824T165238Z.tar.xz"))
		})
		It("errors on an index with no stage3 line", func() {
			_, err := distro.ParseLatestStage3("# only comments\n")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("ParseDigests", func() {
		digests := "# SHA512 HASH\nabc123  stage3-amd64-openrc-20250824T165238Z.tar.xz\n" +
			"# SHA512 HASH\ndef456  stage3-amd64-openrc-20250824T165238Z.tar.xz.CONTENTS.gz\n" +
			"# BLAKE2B HASH\nffffff  stage3-amd64-openrc-20250824T165238Z.tar.xz\n"

		It("returns the SHA512 of the tarball, not the contents listing", func() {
			sum, err := distro.ParseDigests(digests, "stage3-amd64-openrc-20250824T165238Z.tar.xz")
			Expect(err).ToNot(HaveOccurred())
			Expect(sum).To(Equal("abc123"))
		})
		It("errors when the file is not listed", func() {
			_, err := distro.ParseDigests(digests, "stage3-arm64-openrc.tar.xz")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("service enablement", func() {
	var root string

	BeforeEach(func() {
		var err error
		root, err = os.MkdirTemp("", "mkos-services")
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		os.RemoveAll(root)
	})

	Context("runit on void", func() {
		p := mustProfile("void")

		BeforeEach(func() {
			Expect(os.MkdirAll(filepath.Join(root, "etc/sv/sshd"), 0o755)).To(Succeed())
		})

		It("links the service into the default runsvdir", func() {
			Expect(distro.EnableService(p, root, "sshd")).To(Succeed())
			link := filepath.Join(root, "etc/runit/runsvdir/default/sshd")
			target, err := os.Readlink(link)
			Expect(err).ToNot(HaveOccurred())
			Expect(target).To(Equal("/etc/sv/sshd"))
		})
		It("is idempotent", func() {
			Expect(distro.EnableService(p, root, "sshd")).To(Succeed())
			Expect(distro.EnableService(p, root, "sshd")).To(Succeed())
		})
		It("rejects services without a definition", func() {
			Expect(distro.EnableService(p, root, "nonexistent")).To(HaveOccurred())
		})
		It("removes the link on disable", func() {
			Expect(distro.EnableService(p, root, "sshd")).To(Succeed())
			Expect(distro.DisableService(p, root, "sshd")).To(Succeed())
			_, err := os.Lstat(filepath.Join(root, "etc/runit/runsvdir/default/sshd"))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("openrc on alpine", func() {
		p := mustProfile("alpine")

		It("links init.d scripts into the default runlevel", func() {
			Expect(os.MkdirAll(filepath.Join(root, "etc/init.d"), 0o755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(root, "etc/init.d/sshd"), []byte("#!/sbin/openrc-run\n"), 0o755)).To(Succeed())
			Expect(distro.EnableService(p, root, "sshd")).To(Succeed())
			target, err := os.Readlink(filepath.Join(root, "etc/runlevels/default/sshd"))
			Expect(err).ToNot(HaveOccurred())
			Expect(target).To(Equal("/etc/init.d/sshd"))
		})
	})

	Context("sysvinit on slackware", func() {
		p := mustProfile("slackware")

		It("toggles the rc script executable bit", func() {
			Expect(os.MkdirAll(filepath.Join(root, "etc/rc.d"), 0o755)).To(Succeed())
			script := filepath.Join(root, "etc/rc.d/rc.sshd")
			Expect(os.WriteFile(script, []byte("#!/bin/sh\n"), 0o644)).To(Succeed())

			Expect(distro.EnableService(p, root, "sshd")).To(Succeed())
			info, err := os.Stat(script)
			Expect(err).ToNot(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o755)))

			Expect(distro.DisableService(p, root, "sshd")).To(Succeed())
			info, err = os.Stat(script)
			Expect(err).ToNot(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o644)))
		})
	})

	Context("user supervision seeding", func() {
		It("seeds the skel tree for inits without user services", func() {
			p := mustProfile("alpine")
			Expect(distro.ConfigureInit(p, root, manifest.Services{})).To(Succeed())
			Expect(filepath.Join(root, "etc/skel/service")).To(BeADirectory())
			content, err := os.ReadFile(filepath.Join(root, "etc/skel/.profile"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(content)).To(ContainSubstring("runsvdir"))
		})
		It("leaves runit targets alone", func() {
			p := mustProfile("void")
			Expect(distro.ConfigureInit(p, root, manifest.Services{})).To(Succeed())
			_, err := os.Stat(filepath.Join(root, "etc/skel/service"))
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("kernel hooks", func() {
	var root string

	BeforeEach(func() {
		var err error
		root, err = os.MkdirTemp("", "mkos-hooks")
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		os.RemoveAll(root)
	})

	It("writes a pacman transaction hook for artix", func() {
		Expect(distro.InstallKernelHook(mustProfile("artix"), root)).To(Succeed())
		content, err := os.ReadFile(filepath.Join(root, "etc/pacman.d/hooks/90-mkos-boot.hook"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("PostTransaction"))
		Expect(string(content)).To(ContainSubstring("mkos boot rebuild"))
	})
	It("writes an executable post-install script for void", func() {
		Expect(distro.InstallKernelHook(mustProfile("void"), root)).To(Succeed())
		info, err := os.Stat(filepath.Join(root, "etc/kernel.d/post-install/50-mkos-boot"))
		Expect(err).ToNot(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o755)))
	})
	It("writes a postinst.d script for devuan", func() {
		Expect(distro.InstallKernelHook(mustProfile("devuan"), root)).To(Succeed())
		Expect(filepath.Join(root, "etc/kernel/postinst.d/zz-mkos-boot")).To(BeARegularFile())
	})
})

func mustProfile(id string) *profile.DistroProfile {
	p, err := profile.ByID(id)
	if err != nil {
		panic(err)
	}
	return p
}
