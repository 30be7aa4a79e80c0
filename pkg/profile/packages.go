package profile

// Baseline mapping tables: logical package names to native ones, covering
// what the installer itself needs on every target. Site-specific tables
// supplied externally are merged on top (MergeMappings); anything missing
// from both surfaces as unmapped in the run report rather than aborting.

func basePackages(id string) map[string]string {
	switch id {
	case "artix":
		return map[string]string{
			"base-system":            "base",
			"linux-kernel":           "linux",
			"linux-firmware":         "linux-firmware",
			"dracut":                 "dracut",
			"efibootmgr":             "efibootmgr",
			"sbsigntools":            "sbsigntools",
			"cryptsetup":             "cryptsetup",
			"btrfs-progs":            "btrfs-progs",
			"dhcpcd":                 "dhcpcd",
			"iwd":                    "iwd",
			"openssh":                "openssh",
			"display-manager-greetd": "greetd",
		}
	case "void":
		return map[string]string{
			"base-system":            "base-system",
			"linux-kernel":           "linux",
			"linux-firmware":         "linux-firmware",
			"dracut":                 "dracut",
			"efibootmgr":             "efibootmgr",
			"sbsigntools":            "sbsigntool",
			"cryptsetup":             "cryptsetup",
			"btrfs-progs":            "btrfs-progs",
			"dhcpcd":                 "dhcpcd",
			"iwd":                    "iwd",
			"openssh":                "openssh",
			"display-manager-greetd": "greetd",
		}
	case "slackware":
		// No greetd in the Slackware table: the logical name stays
		// unmapped there and is reported, not installed.
		return map[string]string{
			"base-system":    "a-base",
			"linux-kernel":   "kernel-generic",
			"linux-firmware": "kernel-firmware",
			"efibootmgr":     "efibootmgr",
			"cryptsetup":     "cryptsetup",
			"btrfs-progs":    "btrfs-progs",
			"dhcpcd":         "dhcpcd",
			"openssh":        "openssh",
		}
	case "alpine":
		return map[string]string{
			"base-system":            "alpine-base",
			"linux-kernel":           "linux-lts",
			"linux-firmware":         "linux-firmware",
			"dracut":                 "dracut",
			"efibootmgr":             "efibootmgr",
			"sbsigntools":            "sbsigntool",
			"cryptsetup":             "cryptsetup",
			"btrfs-progs":            "btrfs-progs",
			"dhcpcd":                 "dhcpcd",
			"iwd":                    "iwd",
			"openssh":                "openssh",
			"display-manager-greetd": "greetd",
		}
	case "gentoo":
		return map[string]string{
			"base-system":            "@system",
			"linux-kernel":           "sys-kernel/gentoo-kernel-bin",
			"linux-firmware":         "sys-kernel/linux-firmware",
			"dracut":                 "sys-kernel/dracut",
			"efibootmgr":             "sys-boot/efibootmgr",
			"sbsigntools":            "app-crypt/sbsigntools",
			"cryptsetup":             "sys-fs/cryptsetup",
			"btrfs-progs":            "sys-fs/btrfs-progs",
			"dhcpcd":                 "net-misc/dhcpcd",
			"iwd":                    "net-wireless/iwd",
			"openssh":                "net-misc/openssh",
			"display-manager-greetd": "gui-apps/greetd",
		}
	case "devuan":
		return map[string]string{
			"base-system":            "devuan-keyring",
			"linux-kernel":           "linux-image-amd64",
			"linux-firmware":         "firmware-linux-free",
			"dracut":                 "dracut",
			"efibootmgr":             "efibootmgr",
			"sbsigntools":            "sbsigntool",
			"cryptsetup":             "cryptsetup",
			"btrfs-progs":            "btrfs-progs",
			"dhcpcd":                 "dhcpcd5",
			"iwd":                    "iwd",
			"openssh":                "openssh-server",
			"display-manager-greetd": "greetd",
		}
	default:
		return map[string]string{}
	}
}
