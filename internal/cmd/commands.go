package cmd

import (
	"context"
	"fmt"

	"github.com/spectrocloud-labs/herd"
	"github.com/urfave/cli/v2"

	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/internal/version"
	"github.com/monokrome/mkOS/pkg/boot"
	"github.com/monokrome/mkOS/pkg/manifest"
	"github.com/monokrome/mkOS/pkg/pipeline"
	"github.com/monokrome/mkOS/pkg/profile"
	"github.com/monokrome/mkOS/pkg/snapshot"
)

// pipelineRun loads the manifest, registers the requested graph and
// executes it. The DAG is printed before and after the run so the
// operator sees the plan and the completed/failed state in the same
// shape.
func pipelineRun(c *cli.Context, target string, register func(*pipeline.State, *herd.Graph) error) error {
	m, err := manifest.Load(c.String("manifest"))
	if err != nil {
		return err
	}
	if c.String("distro") != "" {
		m.Distro = c.String("distro")
	}

	s, err := pipeline.NewState(m, target)
	if err != nil {
		return err
	}

	g := herd.DAG()
	if err := register(s, g); err != nil {
		return err
	}

	internalUtils.Log.Info().Msg(s.WriteDAG(g))
	if c.Bool("dry-run") {
		return nil
	}

	defer func() {
		s.LogIfError(s.Cleanup(), "cleanup")
	}()

	report := s.Run(context.Background(), g)
	fmt.Print(report.String())
	for _, pkg := range report.Unmapped {
		internalUtils.Log.Warn().Str("package", pkg).Msg("no native package mapping, skipped")
	}
	if !report.Ok() {
		return report.Err
	}
	return nil
}

// resolveProfile picks the distro profile for commands that act on an
// existing system: the --distro flag wins, otherwise the root is probed.
func resolveProfile(c *cli.Context, root string) (*profile.DistroProfile, error) {
	if id := c.String("distro"); id != "" {
		return profile.ByID(id)
	}
	p, ok := profile.Detect(root)
	if !ok {
		return nil, fmt.Errorf("no supported distribution detected under %s, use --distro", root)
	}
	return p, nil
}

var manifestFlag = &cli.StringFlag{
	Name:     "manifest",
	Usage:    "path to the install manifest",
	EnvVars:  []string{"MKOS_MANIFEST"},
	Required: true,
}

var distroFlag = &cli.StringFlag{
	Name:  "distro",
	Usage: "distribution id, overrides manifest or detection",
}

var rootFlag = &cli.StringFlag{
	Name:  "root",
	Usage: "root of the system to operate on",
	Value: "/",
}

var dryRunFlag = &cli.BoolFlag{
	Name:    "dry-run",
	Usage:   "print the step graph without executing",
	EnvVars: []string{"MKOS_DRY_RUN"},
}

var Commands = []*cli.Command{
	{
		Name:      "install",
		Usage:     "provision a device from a manifest",
		UsageText: "mkos install --manifest manifest.yaml [--target /mnt]",
		Description: `
Runs the full provisioning sequence against the manifest's target
device: partition, encrypt, format, mount, bootstrap, configure,
kernel and boot images. The device is wiped.
`,
		Flags: []cli.Flag{
			manifestFlag,
			distroFlag,
			dryRunFlag,
			&cli.StringFlag{
				Name:  "target",
				Usage: "mountpoint where the new system is assembled",
				Value: cnst.MountTarget,
			},
		},
		Action: func(c *cli.Context) error {
			return pipelineRun(c, c.String("target"), (*pipeline.State).RegisterInstall)
		},
	},
	{
		Name:      "apply",
		Usage:     "converge a running system towards a manifest",
		UsageText: "mkos apply --manifest manifest.yaml",
		Description: `
Re-applies the manifest's configuration and package set to the running
system. A pre-apply snapshot is taken first; nothing destructive runs.
`,
		Flags: []cli.Flag{manifestFlag, distroFlag, dryRunFlag, rootFlag},
		Action: func(c *cli.Context) error {
			return pipelineRun(c, c.String("root"), (*pipeline.State).RegisterApply)
		},
	},
	{
		Name:      "upgrade",
		Usage:     "snapshot, upgrade packages and rebuild boot images on kernel change",
		UsageText: "mkos upgrade [--root /]",
		Flags: []cli.Flag{
			distroFlag,
			rootFlag,
			&cli.StringSliceFlag{
				Name:  "cmdline",
				Usage: "extra kernel command line arguments for rebuilt images",
			},
			&cli.StringFlag{
				Name:  "secureboot-keys",
				Usage: "directory with db.key/db.crt for image signing",
			},
		},
		Action: func(c *cli.Context) error {
			root := c.String("root")
			p, err := resolveProfile(c, root)
			if err != nil {
				return err
			}
			return snapshot.Upgrade(p, root, c.StringSlice("cmdline"), c.String("secureboot-keys"))
		},
	},
	{
		Name:  "snapshot",
		Usage: "manage root filesystem snapshots",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list snapshots, newest first",
				Flags: []cli.Flag{rootFlag},
				Action: func(c *cli.Context) error {
					snapshots, err := snapshot.List(c.String("root"))
					if err != nil {
						return err
					}
					for _, s := range snapshots {
						marker := " "
						if snapshot.InUse(c.String("root"), s.Name) {
							marker = "*"
						}
						fmt.Printf("%s %-12s %s\n", marker, s.Kind, s.Name)
					}
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "take a manual read-only snapshot of the root subvolume",
				Flags: []cli.Flag{rootFlag},
				Action: func(c *cli.Context) error {
					s, err := snapshot.Create(c.String("root"), snapshot.KindManual)
					if err != nil {
						return err
					}
					fmt.Println(s.Name)
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "delete a snapshot",
				UsageText: "mkos snapshot delete <name>",
				Flags: []cli.Flag{
					rootFlag,
					&cli.BoolFlag{
						Name:  "force",
						Usage: "delete even if the fallback boot entry references it",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one snapshot name")
					}
					return snapshot.Delete(c.String("root"), c.Args().First(), c.Bool("force"))
				},
			},
		},
	},
	{
		Name:      "rollback",
		Usage:     "point the fallback boot entry at a snapshot",
		UsageText: "mkos rollback <name>",
		Description: `
Rebuilds the fallback boot image so its root is the named read-only
snapshot. The main entry is untouched; booting the fallback lands in
the snapshot.
`,
		Flags: []cli.Flag{
			rootFlag,
			&cli.StringSliceFlag{
				Name:  "cmdline",
				Usage: "extra kernel command line arguments",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one snapshot name")
			}
			return snapshot.Rollback(c.String("root"), c.Args().First(), c.StringSlice("cmdline"))
		},
	},
	{
		Name:  "boot",
		Usage: "manage kernel boot images and firmware entries",
		Subcommands: []*cli.Command{
			{
				Name:  "rebuild",
				Usage: "rebuild initramfs and boot images for the latest installed kernel",
				Flags: []cli.Flag{
					rootFlag,
					&cli.StringSliceFlag{
						Name:  "cmdline",
						Usage: "extra kernel command line arguments",
					},
					&cli.StringFlag{
						Name:  "secureboot-keys",
						Usage: "directory with db.key/db.crt for image signing",
					},
				},
				Action: func(c *cli.Context) error {
					return boot.Rebuild(boot.RebuildOptions{
						Root:             c.String("root"),
						ExtraCmdline:     c.StringSlice("cmdline"),
						SecureBootKeyDir: c.String("secureboot-keys"),
					})
				},
			},
			{
				Name:  "status",
				Usage: "show installed boot images and firmware entries",
				Flags: []cli.Flag{rootFlag},
				Action: func(c *cli.Context) error {
					status, err := boot.ReadStatus(c.String("root"))
					if err != nil {
						return err
					}
					fmt.Print(status.String())
					return nil
				},
			},
		},
	},
	{
		Name:  "detect",
		Usage: "report the distribution of a root filesystem",
		Flags: []cli.Flag{rootFlag},
		Action: func(c *cli.Context) error {
			p, ok := profile.Detect(c.String("root"))
			if !ok {
				return fmt.Errorf("no supported distribution detected under %s", c.String("root"))
			}
			fmt.Printf("%s (%s, init: %s, packages: %s)\n", p.Name, p.ID, p.Init, p.PackageManager)
			return nil
		},
	},
	{
		Name:  "version",
		Usage: "version",
		Action: func(_ *cli.Context) error {
			v := version.Get()
			internalUtils.Log.Info().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("mkOS")
			return nil
		},
	},
}
