package manifest

import (
	"fmt"
	"os"

	"github.com/jaypipes/ghw"
	"github.com/moby/sys/mountinfo"
	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/profile"
	"gopkg.in/yaml.v3"
)

// InstallManifest is the declarative target state for one install or
// apply run. It lives for the duration of a single pipeline invocation
// and is discarded after; the installed filesystem is the durable record.
type InstallManifest struct {
	Device   string `yaml:"device"`
	Distro   string `yaml:"distro"`
	Hostname string `yaml:"hostname"`
	Timezone string `yaml:"timezone"`
	Locale   string `yaml:"locale"`
	Keymap   string `yaml:"keymap"`

	Users    map[string]User `yaml:"users"`
	Packages []string        `yaml:"packages"`
	Services Services        `yaml:"services"`

	Encryption Encryption `yaml:"encryption"`
	SecureBoot SecureBoot `yaml:"secureboot"`
	Bootstrap  Bootstrap  `yaml:"bootstrap"`

	// ExtraCmdline is appended verbatim to the derived kernel command line.
	ExtraCmdline []string `yaml:"extra_cmdline"`
}

type User struct {
	Shell        string   `yaml:"shell"`
	Groups       []string `yaml:"groups"`
	PasswordHash string   `yaml:"password_hash"`
	SSHKeys      []string `yaml:"ssh_keys"`
	Home         string   `yaml:"home"`
}

type Services struct {
	Enable  []string `yaml:"enable"`
	Disable []string `yaml:"disable"`
}

// Encryption carries the LUKS2 key material and Argon2id cost overrides.
// Zero cost values mean cryptsetup benchmark defaults.
type Encryption struct {
	Passphrase  string `yaml:"passphrase"`
	Keyfile     string `yaml:"keyfile"`
	TimeMS      int    `yaml:"argon2id_time_ms"`
	MemoryKiB   int    `yaml:"argon2id_memory_kib"`
	Parallelism int    `yaml:"argon2id_parallelism"`
}

type SecureBoot struct {
	Enabled bool   `yaml:"enabled"`
	KeyDir  string `yaml:"key_dir"`
}

type Bootstrap struct {
	// Stage3Variant selects the Gentoo stage3 flavour, e.g.
	// "amd64-openrc". Empty means the plain arch default.
	Stage3Variant string `yaml:"stage3_variant"`
	// AutoDownload fetches the stage3 tarball when no local path is given.
	AutoDownload bool `yaml:"auto_download"`
	// Tarball is a local rootfs tarball path for the tarball and stage3
	// bootstrap kinds.
	Tarball string `yaml:"tarball"`
	// Mirror overrides the distro's default bootstrap mirror.
	Mirror string `yaml:"mirror"`
}

// Load decodes a manifest file and fills defaults. The concrete file
// syntax stops at this function: everything downstream consumes the
// decoded value.
func Load(path string) (*InstallManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	m := &InstallManifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	m.fillDefaults()
	return m, nil
}

func (m *InstallManifest) fillDefaults() {
	if m.Distro == "" {
		m.Distro = "artix"
	}
	if m.Hostname == "" {
		m.Hostname = "mkos"
	}
	if m.Timezone == "" {
		m.Timezone = "UTC"
	}
	if m.Locale == "" {
		m.Locale = "en_US.UTF-8"
	}
	if m.Keymap == "" {
		m.Keymap = "us"
	}
	for name, u := range m.Users {
		if u.Shell == "" {
			u.Shell = "/bin/sh"
			m.Users[name] = u
		}
	}
}

// Validate checks the structural invariants that need no host access:
// required fields, a known distro, and encryption key material.
func (m *InstallManifest) Validate() error {
	if m.Device == "" {
		return fmt.Errorf("manifest: device is required")
	}
	if _, err := profile.ByID(m.Distro); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if m.Encryption.Passphrase == "" && m.Encryption.Keyfile == "" {
		return fmt.Errorf("manifest: %w", cnst.ErrEncryptionSetupFailed)
	}
	if m.Encryption.Keyfile != "" {
		if _, err := os.Stat(m.Encryption.Keyfile); err != nil {
			return fmt.Errorf("manifest: keyfile %s: %w", m.Encryption.Keyfile, err)
		}
	}
	return nil
}

// ValidateDevice checks the target against the live host: it must be a
// known block disk and no partition of it may be mounted. Destructive
// steps never run against a device this function rejected.
func (m *InstallManifest) ValidateDevice() error {
	block, err := ghw.Block()
	if err != nil {
		return fmt.Errorf("enumerating block devices: %w", err)
	}
	found := false
	for _, disk := range block.Disks {
		if "/dev/"+disk.Name == m.Device {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", cnst.ErrDeviceNotFound, m.Device)
	}

	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return fmt.Errorf("reading mount table: %w", err)
	}
	for _, mnt := range mounts {
		if mnt.Source == m.Device || isPartitionOf(mnt.Source, m.Device) {
			internalUtils.Log.Error().Str("source", mnt.Source).Str("mountpoint", mnt.Mountpoint).Msg("target device is in use")
			return fmt.Errorf("%w: %s mounted at %s", cnst.ErrDeviceBusy, mnt.Source, mnt.Mountpoint)
		}
	}
	return nil
}

// isPartitionOf reports whether source names a partition of device,
// accounting for the "p" separator nvme and mmcblk nodes use.
func isPartitionOf(source, device string) bool {
	if len(source) <= len(device) || source[:len(device)] != device {
		return false
	}
	rest := source[len(device):]
	if rest[0] == 'p' {
		rest = rest[1:]
	}
	if rest == "" {
		return false
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
