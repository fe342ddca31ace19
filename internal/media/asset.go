package media

import (
	"net/url"
	"strings"
)

// ResolveAsset builds the address of a bundled asset: base joined with the
// percent-encoded name, keeping spaces literal. Without a base the name is
// a local path and is returned unchanged, as are absolute URLs and names
// already rooted at base.
func ResolveAsset(base, name string) string {
	if name == "" {
		return ""
	}
	if base == "" || strings.Contains(name, "://") {
		return name
	}

	base = strings.TrimRight(base, "/")
	if base == "" || strings.HasPrefix(name, base+"/") {
		return name
	}

	segments := strings.Split(strings.TrimLeft(name, "/"), "/")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(url.PathEscape(seg), "%20", " ")
	}
	return base + "/" + strings.Join(segments, "/")
}
