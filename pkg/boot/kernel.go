package boot

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	cnst "github.com/monokrome/mkOS/internal/constants"
)

// KernelVersions lists the installed kernels from <root>/lib/modules.
func KernelVersions(root string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, "lib/modules"))
	if err != nil {
		return nil, fmt.Errorf("%w: reading lib/modules: %v", cnst.ErrKernelNotFound, err)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: lib/modules is empty", cnst.ErrKernelNotFound)
	}
	return versions, nil
}

// LatestKernel resolves the target kernel as the version-sorted maximum
// of the installed set, so a leftover old module tree never wins.
func LatestKernel(root string) (string, error) {
	versions, err := KernelVersions(root)
	if err != nil {
		return "", err
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if CompareKernelVersions(v, latest) > 0 {
			latest = v
		}
	}
	return latest, nil
}

// CompareKernelVersions orders kernel release strings like
// "6.6.1-artix1-1": numeric fields compare numerically, the rest
// lexically. Returns <0, 0 or >0.
func CompareKernelVersions(a, b string) int {
	as := splitVersion(a)
	bs := splitVersion(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aErr := strconv.Atoi(as[i])
		bn, bErr := strconv.Atoi(bs[i])
		switch {
		case aErr == nil && bErr == nil:
			return an - bn
		case aErr == nil:
			// Numeric fields sort after plain text so "6.6.1" beats
			// "6.6.rc1".
			return 1
		case bErr == nil:
			return -1
		default:
			return strings.Compare(as[i], bs[i])
		}
	}
	return len(as) - len(bs)
}

func splitVersion(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
}
