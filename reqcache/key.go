package reqcache

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// maxQueryKeyLen bounds the query portion of a cache key. Longer normalized
// queries are replaced with an xxhash digest so keys stay short while the
// path portion (used for prefix invalidation) is preserved.
const maxQueryKeyLen = 128

// BuildKey derives a cache key from a client identity (typically the base
// URL) and a request path. It is a total function: any pair of strings
// yields a key, and distinct pairs yield distinct keys as long as base
// identities do not embed each other's separators.
func BuildKey(base, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// BuildKeyQuery derives a cache key from a base identity, a path and query
// parameters. The query is normalized (sorted keys, sorted values) so that
// two semantically equal requests map to the same key regardless of the
// order the caller assembled them in.
func BuildKeyQuery(base, path string, query url.Values) string {
	key := BuildKey(base, path)
	q := NormalizeQuery(query)
	if q == "" {
		return key
	}
	return key + "?" + q
}

// NormalizeQuery encodes query values deterministically: keys sorted, and
// the values of each key sorted as well. A result longer than
// maxQueryKeyLen is collapsed to a digest.
func NormalizeQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	sorted := make(url.Values, len(query))
	for k, vs := range query {
		cp := make([]string, len(vs))
		copy(cp, vs)
		sort.Strings(cp)
		sorted[k] = cp
	}
	enc := sorted.Encode() // Encode sorts by key.
	if len(enc) > maxQueryKeyLen {
		return "x=" + strconv.FormatUint(xxhash.Sum64String(enc), 16)
	}
	return enc
}

// JoinCodes joins a set of instrument codes into a canonical comma-separated
// list: de-duplicated and sorted, so {"a","b"} and {"b","a","b"} produce the
// same parameter and therefore the same cache key.
func JoinCodes(codes []string) string {
	if len(codes) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(codes))
	uniq := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		uniq = append(uniq, c)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, ",")
}
