package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/uuid"
	cnst "github.com/monokrome/mkOS/internal/constants"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

// LuksOptions are the container parameters. The zero Argon2id costs defer
// to cryptsetup's benchmark.
type LuksOptions struct {
	Cipher      string
	KeySize     int
	Hash        string
	Label       string
	TimeMS      int
	MemoryKiB   int
	Parallelism int
}

func DefaultLuksOptions() LuksOptions {
	return LuksOptions{
		Cipher:  "aes-xts-plain64",
		KeySize: 512,
		Hash:    "sha512",
		Label:   cnst.LuksMapperName,
	}
}

// FormatLuks creates the LUKS2 container on partition. Key material only
// ever travels over stdin.
func FormatLuks(partition string, key []byte, opts LuksOptions) error {
	args := []string{
		"luksFormat",
		"--type", "luks2",
		"--cipher", opts.Cipher,
		"--key-size", strconv.Itoa(opts.KeySize),
		"--hash", opts.Hash,
		"--label", opts.Label,
		"--pbkdf", "argon2id",
	}
	if opts.TimeMS > 0 {
		args = append(args, "--iter-time", strconv.Itoa(opts.TimeMS))
	}
	if opts.MemoryKiB > 0 {
		args = append(args, "--pbkdf-memory", strconv.Itoa(opts.MemoryKiB))
	}
	if opts.Parallelism > 0 {
		args = append(args, "--pbkdf-parallel", strconv.Itoa(opts.Parallelism))
	}
	args = append(args, "--batch-mode", "--key-file=-", partition)

	if _, err := internalUtils.RunWithStdin(key, "cryptsetup", args...); err != nil {
		return fmt.Errorf("%w: %s: %v", cnst.ErrEncryptionSetupFailed, partition, err)
	}
	return nil
}

// OpenLuks maps the container under /dev/mapper/<name> and returns the
// mapper path.
func OpenLuks(partition, name string, key []byte) (string, error) {
	_, err := internalUtils.RunWithStdin(key, "cryptsetup", "open", "--type", "luks2", "--key-file=-", partition, name)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %v", cnst.ErrEncryptionSetupFailed, partition, err)
	}
	return filepath.Join("/dev/mapper", name), nil
}

func CloseLuks(name string) error {
	_, err := internalUtils.Run("cryptsetup", "close", name)
	return err
}

// VolumeUUID reads and validates the container UUID. cryptsetup output is
// parsed strictly so a tool error never ends up on a kernel command line.
func VolumeUUID(partition string) (string, error) {
	out, err := internalUtils.Output("cryptsetup", "luksUUID", partition)
	if err != nil {
		return "", fmt.Errorf("reading LUKS UUID of %s: %w", partition, err)
	}
	id, err := uuid.FromString(out)
	if err != nil {
		return "", fmt.Errorf("unexpected luksUUID output %q: %w", out, err)
	}
	return id.String(), nil
}

// ReadKey resolves the key material for one manifest: the keyfile when
// set, the passphrase otherwise.
func ReadKey(passphrase, keyfile string) ([]byte, error) {
	if keyfile != "" {
		key, err := os.ReadFile(keyfile)
		if err != nil {
			return nil, fmt.Errorf("reading keyfile %s: %w", keyfile, err)
		}
		return key, nil
	}
	return []byte(passphrase), nil
}
