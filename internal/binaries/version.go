package binaries

import (
	"regexp"
	"strconv"
	"strings"
)

var versionRe = regexp.MustCompile(`\d+(\.\d+)+`)

// ExtractVersion pulls the first dotted version number out of tool output
// such as "postgres (PostgreSQL) 16.9" or "mysqld  Ver 8.4.5 for Linux".
func ExtractVersion(out string) string {
	return versionRe.FindString(out)
}

// CompareVersions orders two dotted version strings numerically component
// by component, with missing components treated as zero. Components that
// do not parse as integers fall back to lexical comparison, which keeps
// suffixes like "1.2.0-rc1" ordered deterministically.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		ai, aErr := strconv.Atoi(av)
		bi, bErr := strconv.Atoi(bv)
		if aErr != nil || bErr != nil {
			if av == bv {
				continue
			}
			if av < bv {
				return -1
			}
			return 1
		}
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
	}
	return 0
}

// SameMajor reports whether two versions share a leading component.
func SameMajor(a, b string) bool {
	am, _, _ := strings.Cut(a, ".")
	bm, _, _ := strings.Cut(b, ".")
	return am != "" && am == bm
}
