package dump

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
)

var hexDigestRe = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// IsHexDigest reports whether s is a bare SHA-256 digest in hex form.
func IsHexDigest(s string) bool {
	return hexDigestRe.MatchString(s)
}

// ParseManifest reads a checksum manifest in the two-column format written by
// sha256sum: one "<digest>  <filename>" entry per line. Blank lines, comments
// and lines that do not fit the format are skipped. A leading "*" on the file
// name (binary mode marker) is stripped.
func ParseManifest(r io.Reader) (map[string]string, error) {
	sums := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		digest := fields[0]
		if !IsHexDigest(digest) {
			continue
		}
		name := strings.TrimPrefix(fields[len(fields)-1], "*")
		sums[path.Base(name)] = strings.ToLower(digest)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return sums, nil
}

// DigestFor looks up the manifest entry matching the locator's file name.
func DigestFor(sums map[string]string, locator string) (string, bool) {
	digest, ok := sums[BaseName(locator)]
	return digest, ok
}
