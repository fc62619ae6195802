package materializer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

// Signature computes the deterministic 160-bit (truncated SHA-256) hex
// digest that makes two equivalent build requests reuse the same
// artifact. Field order is normative: it must match exactly, because
// the same computation runs on both the request path and the worker
// path and the digest crosses process boundaries.
func Signature(in SignatureInput) string {
	h := sha256.New()
	writePart := func(s string) { h.Write([]byte(s)); h.Write([]byte{'|'}) }

	writePart(in.Target)
	writePart(in.SourceCommit)
	writePart(in.SourceFirmware)
	writePart(in.TargetFirmware)
	writePart(strconv.Itoa(in.VersionMajor))
	writePart(strconv.Itoa(in.VersionMinor))
	writePart(strconv.Itoa(in.VersionPatch))
	writePart(in.VersionSuffix)

	writePart(shortDigest(in.ExtraModsModules))
	writePart(shortDigest(sortedStrings(in.ModsDisabled)))
	writePart(shortDigest(sortedStrings(in.DebloatDisabled)))
	writePart(shortDigest(sortedStrings(in.DebloatAddSystem)))
	writePart(shortDigest(sortedStrings(in.DebloatAddProduct)))
	writePart(shortDigest(sortedMap(in.FFOverrides)))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:20]) // 160 bits
}

// SignatureInput is the normative set of 14 fields feeding Signature.
type SignatureInput struct {
	Target         string
	SourceCommit   string
	SourceFirmware string
	TargetFirmware string
	VersionMajor   int
	VersionMinor   int
	VersionPatch   int
	VersionSuffix  string

	ExtraModsModules  []string
	ModsDisabled      []string
	DebloatDisabled   []string
	DebloatAddSystem  []string
	DebloatAddProduct []string
	FFOverrides       map[string]string
}

// shortDigest returns a 64-bit digest of v's canonical JSON encoding, so
// the signature is independent of map/slice iteration order: callers
// must pre-sort slices and this function sorts map keys via
// encoding/json's built-in behavior for map[string]string.
func shortDigest(v any) string {
	raw, _ := json.Marshal(v)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
