package utils

import (
	"os"
	"strings"
	"syscall"

	"github.com/containerd/containerd/mount"
	"github.com/deniswernert/go-fstab"
	"github.com/joho/godotenv"
	"github.com/twpayne/go-vfs/v4"
)

// CreateIfNotExists makes the directory path if it's missing.
func CreateIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModePerm)
	}
	return nil
}

// ReadEnv parses an env-format file (os-release, mapping tables) into a map.
func ReadEnv(file string) (map[string]string, error) {
	return ReadEnvFS(vfs.OSFS, file)
}

// ReadEnvFS is ReadEnv against an arbitrary filesystem.
func ReadEnvFS(fs vfs.FS, file string) (map[string]string, error) {
	content, err := fs.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return godotenv.Unmarshal(string(content))
}

// CleanupSlice removes empty or whitespace-only values.
func CleanupSlice(slice []string) []string {
	var cleaned []string
	for _, item := range slice {
		if strings.TrimSpace(item) == "" {
			continue
		}
		cleaned = append(cleaned, item)
	}
	return cleaned
}

// UniqueSlice removes duplicate entries, keeping first occurrences.
func UniqueSlice(slice []string) []string {
	keys := make(map[string]bool)
	var list []string

	for _, entry := range slice {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

// MountToFstab turns a mount operation into an fstab entry. The caller
// fills File with the final in-target mountpoint.
func MountToFstab(m mount.Mount) *fstab.Mount {
	opts := map[string]string{}
	for _, o := range m.Options {
		if strings.Contains(o, "=") {
			dat := strings.SplitN(o, "=", 2)
			opts[dat[0]] = dat[1]
		} else {
			opts[o] = ""
		}
	}
	return &fstab.Mount{
		Spec:    m.Source,
		VfsType: m.Type,
		MntOps:  opts,
		Freq:    0,
		PassNo:  0,
	}
}

// Sync flushes filesystem buffers. Called after destructive block-device
// operations so partial state hits the disk before the next step.
func Sync() {
	syscall.Sync()
}
