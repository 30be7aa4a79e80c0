package distro

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/avast/retry-go"
	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/manifest"
)

const gentooMirror = "https://distfiles.gentoo.org/releases"

// stage3Extracted reports whether root already carries an extracted
// stage3, so re-runs skip the download.
func stage3Extracted(root string) bool {
	markers := []string{
		filepath.Join(root, "etc/portage"),
		filepath.Join(root, "var/db/repos/gentoo"),
		filepath.Join(root, "usr/portage"),
	}
	for _, marker := range markers {
		if _, err := os.Stat(marker); err == nil {
			return true
		}
	}
	return false
}

// GentooArch maps the kernel machine name to Gentoo's release arch.
func GentooArch(machine string) (string, error) {
	switch machine {
	case "x86_64":
		return "amd64", nil
	case "aarch64":
		return "arm64", nil
	case "armv7l":
		return "arm", nil
	case "ppc64le":
		return "ppc64le", nil
	default:
		return "", fmt.Errorf("%w: unsupported architecture %q", cnst.ErrBootstrapFailed, machine)
	}
}

// ParseLatestStage3 extracts the tarball path from a latest-stage3 index:
// comment lines, then `<timestamp>/stage3-<arch>-<variant>-<timestamp>.tar.xz <size>`.
func ParseLatestStage3(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(trimmed, "stage3") {
			return strings.Fields(trimmed)[0], nil
		}
	}
	return "", fmt.Errorf("%w: no stage3 entry in latest index", cnst.ErrBootstrapFailed)
}

// ParseDigests finds the SHA512 of filename in a Gentoo DIGESTS file. The
// file interleaves `# SHA512 HASH` headers with `<hash>  <file>` lines and
// also hashes the .CONTENTS listing, which must not match.
func ParseDigests(content, filename string) (string, error) {
	inSha512 := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			inSha512 = strings.Contains(trimmed, "SHA512")
			continue
		}
		if !inSha512 {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) == 2 && filepath.Base(fields[1]) == filename {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("%w: no SHA512 digest for %s", cnst.ErrBootstrapFailed, filename)
}

func sha512File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha512.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// bootstrapStage3 downloads, verifies and extracts the latest stage3 for
// the host architecture. A local tarball in the manifest short-circuits
// the download.
func bootstrapStage3(m *manifest.InstallManifest, root string) error {
	if stage3Extracted(root) {
		internalUtils.Log.Info().Str("root", root).Msg("stage3 already extracted, skipping download")
		return nil
	}
	if m.Bootstrap.Tarball != "" {
		return extractTarball(m.Bootstrap.Tarball, root)
	}
	if !m.Bootstrap.AutoDownload {
		return fmt.Errorf("%w: gentoo needs a stage3 tarball or auto_download enabled", cnst.ErrBootstrapFailed)
	}

	machine, err := internalUtils.Output("uname", "-m")
	if err != nil {
		return fmt.Errorf("%w: detecting architecture: %v", cnst.ErrBootstrapFailed, err)
	}
	arch, err := GentooArch(machine)
	if err != nil {
		return err
	}

	variant := m.Bootstrap.Stage3Variant
	if variant == "" {
		variant = fmt.Sprintf("%s-openrc", arch)
	}
	mirror := m.Bootstrap.Mirror
	if mirror == "" {
		mirror = gentooMirror
	}
	autobuilds := fmt.Sprintf("%s/%s/autobuilds", mirror, arch)

	index, err := internalUtils.Output("curl", "-sL", fmt.Sprintf("%s/latest-stage3-%s.txt", autobuilds, variant))
	if err != nil {
		return fmt.Errorf("%w: fetching stage3 index: %v", cnst.ErrBootstrapFailed, err)
	}
	stage3Path, err := ParseLatestStage3(index)
	if err != nil {
		return err
	}

	filename := filepath.Base(stage3Path)
	tmpPath := filepath.Join(os.TempDir(), filename)
	url := fmt.Sprintf("%s/%s", autobuilds, stage3Path)

	// A truncated tarball fails digest verification, so every retry
	// starts from scratch rather than resuming.
	err = retry.Do(
		func() error {
			if _, err := internalUtils.Run("curl", "-fL", "--progress-bar", "-o", tmpPath, url); err != nil {
				return err
			}
			digests, err := internalUtils.Output("curl", "-sL", url+".DIGESTS")
			if err != nil {
				return err
			}
			want, err := ParseDigests(digests, filename)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			got, err := sha512File(tmpPath)
			if err != nil {
				return err
			}
			if !strings.EqualFold(want, got) {
				return fmt.Errorf("digest mismatch for %s", filename)
			}
			return nil
		},
		retry.Attempts(3),
		retry.OnRetry(func(n uint, err error) {
			internalUtils.Log.Warn().Err(err).Uint("attempt", n+1).Msg("stage3 download failed, retrying")
			os.Remove(tmpPath)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: downloading stage3: %v", cnst.ErrBootstrapFailed, err)
	}
	defer os.Remove(tmpPath)

	return extractTarball(tmpPath, root)
}
