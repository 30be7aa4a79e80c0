package snapshot_test

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	cnst "github.com/monokrome/mkOS/internal/constants"
	"github.com/monokrome/mkOS/pkg/snapshot"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("snapshot naming", func() {
	It("builds names from kind and UTC timestamp", func() {
		at := time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC)
		Expect(snapshot.NewName(snapshot.KindPreUpgrade, at)).To(Equal("pre-upgrade-20250830T120000Z"))
		Expect(snapshot.NewName(snapshot.KindPreApply, at)).To(Equal("pre-apply-20250830T120000Z"))
	})
	It("parses its own names back", func() {
		s := snapshot.ParseName("pre-upgrade-20250830T120000Z")
		Expect(s.Kind).To(Equal(snapshot.KindPreUpgrade))
		Expect(s.Created.Year()).To(Equal(2025))
	})
	It("treats foreign names as manual with no timestamp", func() {
		s := snapshot.ParseName("before-the-big-change")
		Expect(s.Kind).To(Equal(snapshot.KindManual))
		Expect(s.Created.IsZero()).To(BeTrue())
	})
})

var _ = Describe("snapshot enumeration", func() {
	var root string

	BeforeEach(func() {
		var err error
		root, err = os.MkdirTemp("", "mkos-snap")
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		os.RemoveAll(root)
	})

	mkSnap := func(name string) {
		Expect(os.MkdirAll(filepath.Join(root, ".snapshots", name), 0o755)).To(Succeed())
	}

	It("returns nothing when the snapshots directory is absent", func() {
		list, err := snapshot.List(root)
		Expect(err).ToNot(HaveOccurred())
		Expect(list).To(BeEmpty())
	})

	It("lists newest first", func() {
		mkSnap("pre-upgrade-20250829T080000Z")
		mkSnap("pre-apply-20250830T120000Z")
		mkSnap("pre-upgrade-20250830T090000Z")

		list, err := snapshot.List(root)
		Expect(err).ToNot(HaveOccurred())
		Expect(list).To(HaveLen(3))
		Expect(list[0].Name).To(Equal("pre-apply-20250830T120000Z"))
		Expect(list[1].Name).To(Equal("pre-upgrade-20250830T090000Z"))
		Expect(list[2].Name).To(Equal("pre-upgrade-20250829T080000Z"))
	})

	Context("Delete guards", func() {
		It("refuses unknown snapshots", func() {
			err := snapshot.Delete(root, "pre-apply-20250830T120000Z", false)
			Expect(errors.Is(err, cnst.ErrSnapshotNotFound)).To(BeTrue())
		})

		It("refuses the snapshot the fallback image references", func() {
			name := "pre-upgrade-20250830T090000Z"
			mkSnap(name)
			bootDir := filepath.Join(root, "boot")
			Expect(os.MkdirAll(bootDir, 0o755)).To(Succeed())
			cmdline := "rd.luks.uuid=1234-ABCD root=/dev/mapper/cryptroot rootflags=subvol=@snapshots/" + name + " rw quiet\n"
			Expect(os.WriteFile(filepath.Join(bootDir, "mkos-fallback.cmdline"), []byte(cmdline), 0o644)).To(Succeed())

			err := snapshot.Delete(root, name, false)
			Expect(errors.Is(err, cnst.ErrSnapshotInUse)).To(BeTrue())
		})

		It("does not flag unrelated snapshots as in use", func() {
			bootDir := filepath.Join(root, "boot")
			Expect(os.MkdirAll(bootDir, 0o755)).To(Succeed())
			cmdline := "rd.luks.uuid=1234-ABCD root=/dev/mapper/cryptroot rootflags=subvol=@ rw quiet\n"
			Expect(os.WriteFile(filepath.Join(bootDir, "mkos-fallback.cmdline"), []byte(cmdline), 0o644)).To(Succeed())

			Expect(snapshot.InUse(root, "pre-apply-20250830T120000Z")).To(BeFalse())
		})
	})

	Context("Rollback guards", func() {
		It("refuses to roll back to a snapshot that does not exist", func() {
			err := snapshot.Rollback(root, "pre-upgrade-20250101T000000Z", nil)
			Expect(errors.Is(err, cnst.ErrSnapshotNotFound)).To(BeTrue())
		})
	})
})
