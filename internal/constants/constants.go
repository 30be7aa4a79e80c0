package constants

import "errors"

// Provisioning and configuration errors. Steps wrap these with %w so the
// pipeline report can name the taxonomy entry that aborted the run.
var (
	ErrDeviceBusy             = errors.New("device busy")
	ErrDeviceNotFound         = errors.New("device not found")
	ErrPartitionFailed        = errors.New("partitioning failed")
	ErrEncryptionSetupFailed  = errors.New("encryption setup failed")
	ErrFilesystemCreateFailed = errors.New("filesystem creation failed")
	ErrMountFailed            = errors.New("mount failed")
	ErrBootstrapFailed        = errors.New("bootstrap failed")
	ErrInitConfigFailed       = errors.New("init configuration failed")
	ErrAlreadyMounted         = errors.New("already mounted")
)

// Snapshot and boot lifecycle errors.
var (
	ErrSnapshotNotFound      = errors.New("snapshot not found")
	ErrSnapshotInUse         = errors.New("snapshot referenced by fallback boot entry")
	ErrKernelNotFound        = errors.New("no kernel found under modules directory")
	ErrInitramfsVerification = errors.New("initramfs verification failed")
	ErrUEFINotDetected       = errors.New("system not booted in UEFI mode")
	ErrBootEntryReconcile    = errors.New("boot entry reconciliation failed")
)

// Op names for the install/apply pipeline DAG.
const (
	OpPartition   = "partition"
	OpEncrypt     = "encrypt"
	OpFormat      = "format"
	OpMount       = "mount"
	OpBootstrap   = "bootstrap"
	OpConfigure   = "configure"
	OpKernel      = "install-kernel"
	OpBootImages  = "build-boot-images"
	OpSnapshot    = "snapshot"
	OpPackageSync = "package-sync"
)

const (
	// MountTarget is where the target system is assembled during install.
	MountTarget = "/mnt"

	// LuksMapperName is the device-mapper name for the encrypted root.
	LuksMapperName = "cryptroot"

	// ESPSizeMiB is the size of the FAT32 EFI system partition.
	ESPSizeMiB = 512

	// SnapshotsDir is where @snapshots is mounted on a running system.
	SnapshotsDir = "/.snapshots"

	// BootDir is the ESP mount point, both in-target and on a running system.
	BootDir = "/boot"

	LogDir = "/var/log/mkos"

	// BootEntryPrefix owns the NVRAM label namespace. Every entry whose
	// label starts with this string is ours to delete and recreate.
	BootEntryPrefix = "mkOS"

	// EFIVars must exist for NVRAM reconciliation to be attempted.
	EFIVars = "/sys/firmware/efi/efivars"
)

// RequiredInitramfsModules are the unlock/filesystem modules that must be
// present in a built initramfs before it may be installed.
func RequiredInitramfsModules() []string {
	return []string{"dm_mod", "dm_crypt", "btrfs"}
}
