package boot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
)

// SigningKeys locates the db key pair under keyDir. Missing material is
// not an error: unsigned setups simply skip signing.
func SigningKeys(keyDir string) (key, cert string, ok bool) {
	key = filepath.Join(keyDir, "db.key")
	cert = filepath.Join(keyDir, "db.crt")
	if _, err := os.Stat(key); err != nil {
		return "", "", false
	}
	if _, err := os.Stat(cert); err != nil {
		return "", "", false
	}
	return key, cert, true
}

// SignImage signs one EFI binary in place with the db key.
func SignImage(image, key, cert string) error {
	if _, err := internalUtils.Run("sbsign", "--key", key, "--cert", cert, "--output", image, image); err != nil {
		return fmt.Errorf("signing %s: %w", image, err)
	}
	return nil
}

// GenerateKeys creates the PK/KEK/db hierarchy under keyDir, with .esl
// and .auth artifacts for firmware enrollment. Existing material is
// never overwritten.
func GenerateKeys(keyDir string) error {
	if _, _, ok := SigningKeys(keyDir); ok {
		internalUtils.Log.Info().Str("dir", keyDir).Msg("secure boot keys already present")
		return nil
	}
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return err
	}

	guid, err := uuid.NewV4()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(keyDir, "GUID.txt"), []byte(guid.String()), 0o644); err != nil {
		return err
	}

	pairs := []struct{ name, cn string }{
		{"PK", "mkOS Platform Key"},
		{"KEK", "mkOS Key Exchange Key"},
		{"db", "mkOS Signature Database Key"},
	}
	for _, pair := range pairs {
		if err := generateKeyPair(keyDir, pair.name, pair.cn, guid.String()); err != nil {
			return err
		}
	}
	return nil
}

func generateKeyPair(dir, name, cn, guid string) error {
	key := filepath.Join(dir, name+".key")
	cert := filepath.Join(dir, name+".crt")
	esl := filepath.Join(dir, name+".esl")
	auth := filepath.Join(dir, name+".auth")

	_, err := internalUtils.Run("openssl",
		"req", "-newkey", "rsa:4096", "-nodes",
		"-keyout", key,
		"-x509", "-sha256", "-days", "3650",
		"-subj", fmt.Sprintf("/CN=%s/", cn),
		"-out", cert,
	)
	if err != nil {
		return fmt.Errorf("generating %s key pair: %w", name, err)
	}

	if _, err := internalUtils.Run("cert-to-efi-sig-list", "-g", guid, cert, esl); err != nil {
		return fmt.Errorf("creating %s signature list: %w", name, err)
	}

	// The PK self-signs; KEK and db updates are signed by the PK.
	signKey, signCert := key, cert
	if name != "PK" {
		signKey = filepath.Join(dir, "PK.key")
		signCert = filepath.Join(dir, "PK.crt")
	}
	if _, err := internalUtils.Run("sign-efi-sig-list", "-g", guid, "-k", signKey, "-c", signCert, name, esl, auth); err != nil {
		return fmt.Errorf("signing %s signature list: %w", name, err)
	}
	return nil
}

// EnrollKeys copies the .auth enrollment artifacts onto the ESP so the
// operator can enroll them from firmware setup.
func EnrollKeys(espDir, keyDir string) error {
	target := filepath.Join(espDir, "keys")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	for _, name := range []string{"PK", "KEK", "db"} {
		src := filepath.Join(keyDir, name+".auth")
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("reading %s: %w", src, err)
		}
		if err := os.WriteFile(filepath.Join(target, name+".auth"), data, 0o600); err != nil {
			return err
		}
	}
	return nil
}

// WriteStartupNSH drops the EFI shell script some firmwares run when
// NVRAM holds no usable entries, pointing at the main image.
func WriteStartupNSH(espDir, mainESPPath string) error {
	loader := "\\" + strings.ReplaceAll(strings.TrimPrefix(mainESPPath, "/"), "/", "\\")
	content := fmt.Sprintf("# fallback boot script for firmwares that drop NVRAM entries\n%s\n", loader)
	return os.WriteFile(filepath.Join(espDir, "startup.nsh"), []byte(content), 0o644)
}
