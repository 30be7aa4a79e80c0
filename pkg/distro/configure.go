package distro

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/manifest"
	"github.com/monokrome/mkOS/pkg/profile"
)

// ConfigureSystem applies the manifest's identity settings and accounts
// to the target. Each setting is written idempotently, so re-running a
// failed configure step is safe.
func ConfigureSystem(p *profile.DistroProfile, m *manifest.InstallManifest, root string) error {
	if err := os.WriteFile(filepath.Join(root, "etc/hostname"), []byte(m.Hostname+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: hostname: %v", cnst.ErrInitConfigFailed, err)
	}

	zone := filepath.Join("/usr/share/zoneinfo", m.Timezone)
	localtime := filepath.Join(root, "etc/localtime")
	os.Remove(localtime)
	if err := os.Symlink(zone, localtime); err != nil {
		return fmt.Errorf("%w: timezone: %v", cnst.ErrInitConfigFailed, err)
	}

	if err := os.WriteFile(filepath.Join(root, "etc/locale.conf"), []byte("LANG="+m.Locale+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: locale: %v", cnst.ErrInitConfigFailed, err)
	}
	if err := os.WriteFile(filepath.Join(root, "etc/vconsole.conf"), []byte("KEYMAP="+m.Keymap+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: keymap: %v", cnst.ErrInitConfigFailed, err)
	}

	if err := createUsers(m, root); err != nil {
		return err
	}
	return ConfigureInit(p, root, m.Services)
}

func createUsers(m *manifest.InstallManifest, root string) error {
	// Deterministic creation order keeps uids stable across identical
	// manifests.
	names := make([]string, 0, len(m.Users))
	for name := range m.Users {
		names = append(names, name)
	}
	sort.Strings(names)

	chroot := internalUtils.NewChroot(root)
	return chroot.RunCallback(func() error {
		for _, name := range names {
			u := m.Users[name]
			if _, err := os.Stat(filepath.Join("/home", name)); err == nil {
				internalUtils.Log.Debug().Str("user", name).Msg("user exists, skipping creation")
				continue
			}
			args := []string{"-m", "-s", u.Shell}
			if len(u.Groups) > 0 {
				args = append(args, "-G", strings.Join(u.Groups, ","))
			}
			if u.Home != "" {
				args = append(args, "-d", u.Home)
			}
			args = append(args, name)
			if _, err := internalUtils.Run("useradd", args...); err != nil {
				return fmt.Errorf("%w: creating user %s: %v", cnst.ErrInitConfigFailed, name, err)
			}
			if u.PasswordHash != "" {
				line := fmt.Sprintf("%s:%s\n", name, u.PasswordHash)
				if _, err := internalUtils.RunWithStdin([]byte(line), "chpasswd", "-e"); err != nil {
					return fmt.Errorf("%w: setting password for %s: %v", cnst.ErrInitConfigFailed, name, err)
				}
			}
			if len(u.SSHKeys) > 0 {
				home := u.Home
				if home == "" {
					home = filepath.Join("/home", name)
				}
				sshDir := filepath.Join(home, ".ssh")
				if err := os.MkdirAll(sshDir, 0o700); err != nil {
					return err
				}
				keys := strings.Join(u.SSHKeys, "\n") + "\n"
				if err := os.WriteFile(filepath.Join(sshDir, "authorized_keys"), []byte(keys), 0o600); err != nil {
					return err
				}
				if _, err := internalUtils.Run("chown", "-R", name+":"+name, sshDir); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
