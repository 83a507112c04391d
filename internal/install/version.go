package install

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// pep440 matches the public version forms the server and its installers use
// (Python packaging rules): optional epoch, any number of release segments,
// then optional pre, post and dev parts. A local label ("+cu118") is
// accepted and ignored.
var pep440 = regexp.MustCompile(`^v?(?:(\d+)!)?(\d+(?:\.\d+)*)` +
	`(?:[-_.]?(alpha|beta|preview|pre|rc|a|b|c)[-_.]?(\d+)?)?` +
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d+)?)?` +
	`(?:[-_.]?(dev)[-_.]?(\d+)?)?` +
	`(?:\+[a-z0-9]+(?:[-_.][a-z0-9]+)*)?$`)

// Pre-release ranks; a final release sorts above all of them.
const (
	preAlpha = iota
	preBeta
	preRC
	preNone
)

// Version is a parsed release version. The zero value is not a valid
// version; use ParseVersion.
type Version struct {
	epoch   int
	release []int
	pre     int // preAlpha..preNone
	preN    int
	post    int // -1 when absent
	dev     int // -1 when absent
}

// ParseVersion parses s ("3.19.2", "v3.18.0.1", "3.18.1rc1",
// "3.19.0.post1"). ok is false when s is not a version.
func ParseVersion(s string) (v Version, ok bool) {
	m := pep440.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return Version{}, false
	}
	num := func(s string) int {
		if s == "" {
			return 0
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			ok = false
		}
		return n
	}
	ok = true
	v = Version{epoch: num(m[1]), pre: preNone, post: -1, dev: -1}
	for _, seg := range strings.Split(m[2], ".") {
		v.release = append(v.release, num(seg))
	}
	switch m[3] {
	case "a", "alpha":
		v.pre = preAlpha
	case "b", "beta":
		v.pre = preBeta
	case "c", "rc", "pre", "preview":
		v.pre = preRC
	}
	if m[3] != "" {
		v.preN = num(m[4])
	}
	switch {
	case m[5] != "":
		v.post = num(m[5])
	case m[6] != "":
		v.post = num(m[7])
	}
	if m[8] != "" {
		v.dev = num(m[9])
	}
	if !ok {
		return Version{}, false
	}
	return v, true
}

// MustParseVersion is ParseVersion for constants.
func MustParseVersion(s string) Version {
	v, ok := ParseVersion(s)
	if !ok {
		panic("install: invalid version " + strconv.Quote(s))
	}
	return v
}

// segment returns release segment n, zero past the end.
func (v Version) segment(n int) int {
	if n < len(v.release) {
		return v.release[n]
	}
	return 0
}

// core is the major.minor.patch part as a semver string.
func (v Version) core() string {
	return fmt.Sprintf("v%d.%d.%d", v.segment(0), v.segment(1), v.segment(2))
}

// preKey orders the pre-release part. A dev release of a final version
// sorts before its alphas.
func (v Version) preKey() (int, int) {
	if v.pre == preNone && v.post < 0 && v.dev >= 0 {
		return -1, 0
	}
	return v.pre, v.preN
}

func (v Version) devKey() int {
	if v.dev < 0 {
		return math.MaxInt
	}
	return v.dev
}

// Compare returns -1, 0 or +1 as v sorts before, equal to or after w.
// Trailing zero segments are insignificant ("3.18" == "3.18.0").
func (v Version) Compare(w Version) int {
	if c := cmp.Compare(v.epoch, w.epoch); c != 0 {
		return c
	}
	if c := semver.Compare(v.core(), w.core()); c != 0 {
		return c
	}
	for n := 3; n < max(len(v.release), len(w.release)); n++ {
		if c := cmp.Compare(v.segment(n), w.segment(n)); c != 0 {
			return c
		}
	}
	vp, vn := v.preKey()
	wp, wn := w.preKey()
	if c := cmp.Compare(vp, wp); c != 0 {
		return c
	}
	if c := cmp.Compare(vn, wn); c != 0 {
		return c
	}
	if c := cmp.Compare(v.post, w.post); c != 0 {
		return c
	}
	return cmp.Compare(v.devKey(), w.devKey())
}

// String returns the normalized form with a "v" prefix and at least three
// release segments: "v3.18.0", "v3.18.0.1", "v3.18.1rc1", "v3.19.0.post1".
func (v Version) String() string {
	var b strings.Builder
	b.WriteString("v")
	if v.epoch != 0 {
		fmt.Fprintf(&b, "%d!", v.epoch)
	}
	segs := max(len(v.release), 3)
	for n := 0; n < segs; n++ {
		if n > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(v.segment(n)))
	}
	switch v.pre {
	case preAlpha:
		fmt.Fprintf(&b, "a%d", v.preN)
	case preBeta:
		fmt.Fprintf(&b, "b%d", v.preN)
	case preRC:
		fmt.Fprintf(&b, "rc%d", v.preN)
	}
	if v.post >= 0 {
		fmt.Fprintf(&b, ".post%d", v.post)
	}
	if v.dev >= 0 {
		fmt.Fprintf(&b, ".dev%d", v.dev)
	}
	return b.String()
}
