// Package hints scans a build log's tail for a fixed set of known
// failure signatures and surfaces a human-readable cause and
// suggestion for each one that matches.
package hints

import "regexp"

// Hint is one matched failure signature.
type Hint struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion"`
}

type probe struct {
	id         string
	pattern    *regexp.Regexp
	title      string
	detail     string
	suggestion string
}

// MaxLogBytes bounds how much of a job's log is scanned, from the tail.
const MaxLogBytes = 512 * 1024

var probes = []probe{
	{
		id:         "loop-device",
		pattern:    regexp.MustCompile(`(?i)failed to setup loop device|loop device`),
		title:      "Loop device not available",
		detail:     "Build container cannot mount system.img via loop device",
		suggestion: "Run with privileged/rootful docker or enable loop devices in the container runtime",
	},
	{
		id:         "git-identity",
		pattern:    regexp.MustCompile(`(?i)Committer identity unknown|unable to auto-detect email address`),
		title:      "Git identity is not configured",
		detail:     "Git requires user.name and user.email to apply patches",
		suggestion: "Set git config user.name and user.email inside the build environment",
	},
	{
		id:         "pkg-config-missing",
		pattern:    regexp.MustCompile(`(?i)Could NOT find PkgConfig|PKG_CONFIG_EXECUTABLE`),
		title:      "pkg-config is missing",
		detail:     "Build needs pkg-config but it is not installed",
		suggestion: "Install pkg-config (pkgconf) in the build image",
	},
	{
		id:         "fmt-missing",
		pattern:    regexp.MustCompile(`(?i)fmtConfig\.cmake|fmt-config\.cmake`),
		title:      "fmt library is missing",
		detail:     "CMake cannot find the fmt package",
		suggestion: "Install libfmt-dev (or use the bundled fmt) in the build image",
	},
	{
		id:         "patch-failed",
		pattern:    regexp.MustCompile(`(?i)patch does not apply|patch failed`),
		title:      "Patch does not apply",
		detail:     "Source files differ from the expected base",
		suggestion: "Update sources to the matching version or adjust the patch",
	},
	{
		id:         "samloader-400",
		pattern:    regexp.MustCompile(`(?i)DownloadBinaryInform returned 400`),
		title:      "Firmware version not found",
		detail:     "Samsung firmware server rejected the requested version",
		suggestion: "Double-check model/CSC/firmware version or remove the override",
	},
}

// Detect scans logText (already trimmed to at most MaxLogBytes by the
// caller) and returns every probe that matched, in declaration order.
func Detect(logText string) []Hint {
	var found []Hint
	for _, p := range probes {
		if p.pattern.MatchString(logText) {
			found = append(found, Hint{ID: p.id, Title: p.title, Detail: p.detail, Suggestion: p.suggestion})
		}
	}
	return found
}

// Tail returns the last MaxLogBytes of s, favoring the most recent
// output where a failure signature is most likely to appear.
func Tail(s string) string {
	if len(s) <= MaxLogBytes {
		return s
	}
	return s[len(s)-MaxLogBytes:]
}
