package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spectrocloud-labs/herd"

	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/boot"
	"github.com/monokrome/mkOS/pkg/disk"
	"github.com/monokrome/mkOS/pkg/distro"
	"github.com/monokrome/mkOS/pkg/snapshot"
)

// RegisterInstall adds the install sequence to the graph. The deps form
// a strict chain: every step touches state the previous one created, and
// a failure must stop the run before the next destructive action.
func (s *State) RegisterInstall(g *herd.Graph) error {
	steps := []struct {
		name string
		deps []string
		fn   func(context.Context) error
	}{
		{cnst.OpPartition, nil, s.partition},
		{cnst.OpEncrypt, []string{cnst.OpPartition}, s.encrypt},
		{cnst.OpFormat, []string{cnst.OpEncrypt}, s.format},
		{cnst.OpMount, []string{cnst.OpFormat}, s.mount},
		{cnst.OpBootstrap, []string{cnst.OpMount}, s.bootstrap},
		{cnst.OpConfigure, []string{cnst.OpBootstrap}, s.configure},
		{cnst.OpKernel, []string{cnst.OpConfigure}, s.installKernel},
		{cnst.OpBootImages, []string{cnst.OpKernel}, s.buildBootImages},
	}
	for _, step := range steps {
		opts := []herd.OpOption{herd.WithCallback(step.fn)}
		if len(step.deps) > 0 {
			opts = append(opts, herd.WithDeps(step.deps...))
		}
		if err := g.Add(step.name, opts...); err != nil {
			return err
		}
	}
	return nil
}

// RegisterApply adds the apply sequence for a running system: snapshot
// first so a failed apply is always revertible, then configuration and
// package sync. No destructive disk steps.
func (s *State) RegisterApply(g *herd.Graph) error {
	if err := g.Add(cnst.OpSnapshot, herd.WithCallback(s.preApplySnapshot)); err != nil {
		return err
	}
	if err := g.Add(cnst.OpConfigure, herd.WithDeps(cnst.OpSnapshot), herd.WithCallback(s.configure)); err != nil {
		return err
	}
	return g.Add(cnst.OpPackageSync, herd.WithDeps(cnst.OpConfigure), herd.WithCallback(s.packageSync))
}

func (s *State) partition(_ context.Context) error {
	if err := s.Manifest.ValidateDevice(); err != nil {
		return err
	}
	layout, err := disk.Partition(s.Manifest.Device)
	if err != nil {
		return err
	}
	s.layout = layout
	return disk.FormatESP(layout.ESP)
}

func (s *State) encrypt(_ context.Context) error {
	key, err := disk.ReadKey(s.Manifest.Encryption.Passphrase, s.Manifest.Encryption.Keyfile)
	if err != nil {
		return err
	}
	opts := disk.DefaultLuksOptions()
	opts.TimeMS = s.Manifest.Encryption.TimeMS
	opts.MemoryKiB = s.Manifest.Encryption.MemoryKiB
	opts.Parallelism = s.Manifest.Encryption.Parallelism

	if err := disk.FormatLuks(s.layout.Luks, key, opts); err != nil {
		return err
	}
	mapper, err := disk.OpenLuks(s.layout.Luks, cnst.LuksMapperName, key)
	if err != nil {
		return err
	}
	s.mapper = mapper
	return nil
}

func (s *State) format(_ context.Context) error {
	if err := disk.FormatBtrfs(s.mapper, cnst.LuksMapperName); err != nil {
		return err
	}
	return disk.CreateSubvolumes(s.mapper, disk.DefaultSubvolumeLayout())
}

func (s *State) mount(_ context.Context) error {
	mounts, err := disk.MountAll(s.layout, s.mapper, disk.DefaultSubvolumeLayout(), s.Target)
	if err != nil {
		return err
	}
	s.mounts = mounts
	return nil
}

func (s *State) bootstrap(_ context.Context) error {
	if err := distro.Bootstrap(s.Profile, s.Manifest, s.Target); err != nil {
		return err
	}
	luksUUID, err := disk.VolumeUUID(s.layout.Luks)
	if err != nil {
		return err
	}
	if err := disk.WriteCrypttab(s.Target, cnst.LuksMapperName, luksUUID); err != nil {
		return err
	}
	if err := s.mounts.WriteFstab(); err != nil {
		return err
	}
	return distro.InstallKernelHook(s.Profile, s.Target)
}

func (s *State) configure(_ context.Context) error {
	if err := distro.ConfigureSystem(s.Profile, s.Manifest, s.Target); err != nil {
		return err
	}
	installable, unmapped := s.Profile.MapPackages(s.Manifest.Packages)
	s.unmapped = unmapped
	if len(installable) == 0 {
		return nil
	}
	return distro.InstallPackages(s.Profile, s.Target, s.Manifest.Packages)
}

func (s *State) installKernel(_ context.Context) error {
	if _, err := boot.LatestKernel(s.Target); err == nil {
		return nil
	}
	internalUtils.Log.Info().Str("package", s.Profile.KernelPackage).Msg("no kernel installed yet, installing")
	if err := distro.InstallPackages(s.Profile, s.Target, []string{"linux-kernel", "linux-firmware"}); err != nil {
		return err
	}
	if _, err := boot.LatestKernel(s.Target); err != nil {
		return fmt.Errorf("kernel install left no modules behind: %w", err)
	}
	return nil
}

func (s *State) buildBootImages(_ context.Context) error {
	keyDir := ""
	if s.Manifest.SecureBoot.Enabled {
		keyDir = s.Manifest.SecureBoot.KeyDir
		if keyDir == "" {
			keyDir = filepath.Join(s.Target, "etc/mkos/keys")
		}
		if err := boot.GenerateKeys(keyDir); err != nil {
			return err
		}
	}
	err := boot.Rebuild(boot.RebuildOptions{
		Root:             s.Target,
		ExtraCmdline:     s.Manifest.ExtraCmdline,
		SecureBootKeyDir: keyDir,
	})
	if err != nil {
		return err
	}
	if s.Manifest.SecureBoot.Enabled {
		return boot.EnrollKeys(filepath.Join(s.Target, cnst.BootDir), keyDir)
	}
	return nil
}

func (s *State) preApplySnapshot(_ context.Context) error {
	_, err := snapshot.Create(s.Target, snapshot.KindPreApply)
	return err
}

func (s *State) packageSync(_ context.Context) error {
	return distro.Sync(s.Profile, s.Target)
}
