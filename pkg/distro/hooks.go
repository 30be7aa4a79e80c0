package distro

import (
	"fmt"
	"os"
	"path/filepath"

	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/profile"
)

const pacmanHook = `[Trigger]
Operation = Install
Operation = Upgrade
Type = Package
Target = linux
Target = linux-lts

[Action]
Description = Rebuilding boot images...
When = PostTransaction
Exec = /usr/bin/mkos boot rebuild
NeedsTargets
`

const shellHook = `#!/bin/sh
# Rebuild the boot images after a kernel change.
exec /usr/bin/mkos boot rebuild
`

// InstallKernelHook wires the target's package manager to run
// `mkos boot rebuild` after every kernel transaction, so the image set
// and NVRAM entries track kernel upgrades without operator action.
func InstallKernelHook(p *profile.DistroProfile, root string) error {
	var path string
	var content string
	var mode os.FileMode = 0o755

	switch p.ID {
	case "artix":
		path = filepath.Join(root, "etc/pacman.d/hooks/90-mkos-boot.hook")
		content = pacmanHook
		mode = 0o644
	case "void":
		path = filepath.Join(root, "etc/kernel.d/post-install/50-mkos-boot")
		content = shellHook
	case "alpine":
		path = filepath.Join(root, "etc/apk/commit_hooks.d/mkos-boot")
		content = shellHook
	case "gentoo":
		path = filepath.Join(root, "etc/kernel/postinst.d/zz-mkos-boot")
		content = shellHook
	case "devuan":
		path = filepath.Join(root, "etc/kernel/postinst.d/zz-mkos-boot")
		content = shellHook
	case "slackware":
		// slackpkg has no transaction hooks. Operators run the rebuild
		// manually; install a reminder script alongside.
		path = filepath.Join(root, "usr/local/sbin/mkos-kernel-update")
		content = shellHook
	default:
		return fmt.Errorf("no kernel hook location for %s", p.ID)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("writing kernel hook %s: %w", path, err)
	}
	internalUtils.Log.Debug().Str("path", path).Str("distro", p.ID).Msg("installed kernel hook")
	return nil
}
