package snapshot

import (
	"fmt"

	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/boot"
	"github.com/monokrome/mkOS/pkg/distro"
	"github.com/monokrome/mkOS/pkg/profile"
)

// Upgrade runs the safe upgrade sequence: snapshot first, then the
// distro's sync and upgrade, then a boot-image rebuild only when the
// target kernel actually changed. A failure before the rebuild leaves
// the previous boot images and entries untouched.
func Upgrade(p *profile.DistroProfile, root string, extraCmdline []string, keyDir string) error {
	pre, err := Create(root, KindPreUpgrade)
	if err != nil {
		return fmt.Errorf("creating pre-upgrade snapshot: %w", err)
	}
	internalUtils.Log.Info().Str("snapshot", pre.Name).Msg("pre-upgrade snapshot in place")

	kverBefore, err := boot.LatestKernel(root)
	if err != nil {
		return err
	}

	if err := distro.Sync(p, root); err != nil {
		return err
	}
	if err := distro.Upgrade(p, root); err != nil {
		return err
	}

	kverAfter, err := boot.LatestKernel(root)
	if err != nil {
		return err
	}
	if kverAfter == kverBefore {
		internalUtils.Log.Info().Str("kernel", kverAfter).Msg("kernel unchanged, boot images stay as they are")
		return nil
	}

	internalUtils.Log.Info().Str("from", kverBefore).Str("to", kverAfter).Msg("kernel changed, rebuilding boot images")
	return boot.Rebuild(boot.RebuildOptions{
		Root:             root,
		ExtraCmdline:     extraCmdline,
		SecureBootKeyDir: keyDir,
	})
}
