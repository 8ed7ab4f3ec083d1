package connection

import (
	"fmt"
	"strconv"
	"strings"
)

// semver is a minimal major.minor.patch triple; the pool only ever needs
// to compare versions, never parse build metadata or pre-release tags.
type semver struct {
	Major, Minor, Patch int
}

func parseSemver(s string) (semver, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return semver{}, fmt.Errorf("connection: invalid version %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return semver{}, fmt.Errorf("connection: invalid version %q: %w", s, err)
		}
		nums[i] = n
	}
	return semver{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b.
func (a semver) compare(b semver) int {
	switch {
	case a.Major != b.Major:
		return sign(a.Major - b.Major)
	case a.Minor != b.Minor:
		return sign(a.Minor - b.Minor)
	default:
		return sign(a.Patch - b.Patch)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func (a semver) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Major, a.Minor, a.Patch)
}
