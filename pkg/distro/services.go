package distro

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/manifest"
	"github.com/monokrome/mkOS/pkg/profile"
)

// initPaths describes where one init keeps its service definitions and
// its enablement directory inside the target.
type initPaths struct {
	serviceDir    string
	enablementDir string
}

func pathsFor(p *profile.DistroProfile) initPaths {
	switch p.Init {
	case profile.InitRunit:
		if p.ID == "void" {
			return initPaths{serviceDir: "etc/sv", enablementDir: "etc/runit/runsvdir/default"}
		}
		return initPaths{serviceDir: "etc/runit/sv", enablementDir: "etc/runit/runsvdir/default"}
	case profile.InitS6:
		return initPaths{serviceDir: "etc/s6/sv", enablementDir: "etc/s6/adminsv/default"}
	case profile.InitOpenRC:
		return initPaths{serviceDir: "etc/init.d", enablementDir: "etc/runlevels/default"}
	default:
		return initPaths{serviceDir: "etc/init.d"}
	}
}

// ConfigureInit enables and disables services using the profile's init
// idiom and seeds the per-user supervision tree where the system init
// has no native one.
func ConfigureInit(p *profile.DistroProfile, root string, services manifest.Services) error {
	var result *multierror.Error
	for _, svc := range services.Enable {
		if err := EnableService(p, root, svc); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, svc := range services.Disable {
		if err := DisableService(p, root, svc); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := seedUserSupervision(p, root); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", cnst.ErrInitConfigFailed, err)
	}
	return nil
}

// EnableService activates one service. Symlink inits get a link from the
// enablement dir to the definition; SysVinit goes through update-rc.d or
// the Slackware rc script executable bit.
func EnableService(p *profile.DistroProfile, root, service string) error {
	if p.Init == profile.InitSysVinit {
		return enableSysVinit(p, root, service)
	}

	paths := pathsFor(p)
	src := filepath.Join(root, paths.serviceDir, service)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("service %s not found under %s", service, paths.serviceDir)
	}
	dir := filepath.Join(root, paths.enablementDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, service)
	if _, err := os.Lstat(dst); err == nil {
		return nil
	}
	// The link target must be valid inside the booted system, not the
	// install host.
	return os.Symlink(filepath.Join("/", paths.serviceDir, service), dst)
}

func enableSysVinit(p *profile.DistroProfile, root, service string) error {
	if p.ID == "slackware" {
		script := filepath.Join(root, "etc/rc.d", "rc."+service)
		if _, err := os.Stat(script); err != nil {
			return fmt.Errorf("service %s not found under etc/rc.d", service)
		}
		return os.Chmod(script, 0o755)
	}
	chroot := internalUtils.NewChroot(root)
	_, err := chroot.Run(fmt.Sprintf("update-rc.d %s defaults", service))
	return err
}

// DisableService is the inverse: remove the enablement link, or
// deregister with the sysvinit tooling.
func DisableService(p *profile.DistroProfile, root, service string) error {
	if p.Init == profile.InitSysVinit {
		if p.ID == "slackware" {
			script := filepath.Join(root, "etc/rc.d", "rc."+service)
			if _, err := os.Stat(script); err != nil {
				return nil
			}
			return os.Chmod(script, 0o644)
		}
		chroot := internalUtils.NewChroot(root)
		_, err := chroot.Run(fmt.Sprintf("update-rc.d -f %s remove", service))
		return err
	}

	paths := pathsFor(p)
	dst := filepath.Join(root, paths.enablementDir, service)
	if _, err := os.Lstat(dst); err != nil {
		return nil
	}
	return os.Remove(dst)
}

// seedUserSupervision installs a runit user tree under /etc/skel for
// inits without native per-user services. A nested runsvdir from the
// login profile supervises them, never the system init directly.
func seedUserSupervision(p *profile.DistroProfile, root string) error {
	if p.Init == profile.InitRunit || p.Init == profile.InitS6 {
		// Native user supervision is a symlink away on these.
		return nil
	}

	skelService := filepath.Join(root, "etc/skel/service")
	if err := os.MkdirAll(skelService, 0o755); err != nil {
		return err
	}

	snippet := "# user service supervision\n" +
		"if command -v runsvdir >/dev/null 2>&1; then\n" +
		"\tif ! pgrep -u \"$(id -u)\" -f \"runsvdir $HOME/service\" >/dev/null 2>&1; then\n" +
		"\t\trunsvdir \"$HOME/service\" &\n" +
		"\tfi\n" +
		"fi\n"
	profilePath := filepath.Join(root, "etc/skel/.profile")
	f, err := os.OpenFile(profilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(snippet)
	return err
}
