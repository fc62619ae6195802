package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Resolver locates the Android source tree and reads its shell-style
// configuration files. Every method is a pure function over the
// filesystem snapshot at call time: no state is cached.
type Resolver struct {
	candidates []string
}

// NewResolver builds a Resolver that probes candidates in order,
// falling back to a short fixed list of conventional checkout locations
// when none are supplied.
func NewResolver(candidates ...string) *Resolver {
	if len(candidates) == 0 {
		candidates = []string{
			os.Getenv("UNICA_WB_UN1CA_ROOT"),
			"/root/un1ca",
			"/data/un1ca",
			filepath.Join(os.Getenv("HOME"), "un1ca"),
		}
	}
	return &Resolver{candidates: candidates}
}

// RepoRoot returns the first candidate that looks like a real checkout:
// it must contain both target/ and unica/configs/version.sh.
func (r *Resolver) RepoRoot() (string, error) {
	for _, c := range r.candidates {
		if c == "" {
			continue
		}
		targetDir := filepath.Join(c, "target")
		versionSh := filepath.Join(c, "unica", "configs", "version.sh")
		if dirExists(targetDir) && fileExists(versionSh) {
			return c, nil
		}
	}
	return "", fmt.Errorf("config: no candidate repo root contains target/ and unica/configs/version.sh")
}

// TargetCodenames lists the subdirectories of <root>/target.
func (r *Resolver) TargetCodenames() ([]string, error) {
	root, err := r.RepoRoot()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(root, "target"))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

var shellVarLineRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*"?([^"]*)"?\s*$`)

// ReadShellVar scans path for a line of the form `name= "?value"?` and
// returns the trimmed value. It returns ("", nil) if the variable is
// never assigned.
func ReadShellVar(path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		m := shellVarLineRe.FindStringSubmatch(line)
		if m == nil || m[1] != name {
			continue
		}
		return strings.TrimSpace(m[2]), nil
	}
	return "", scanner.Err()
}

// Defaults is the per-target default firmware/version triple read from
// the repository's shell configuration.
type Defaults struct {
	SourceFirmware string
	TargetFirmware string
	VersionMajor   int
	VersionMinor   int
	VersionPatch   int
	VersionSuffix  string
}

// DefaultsFor reads codename's defaults from three known shell files
// under the repository root: unica/configs/version.sh (version triple)
// and target/<codename>/{source,target}_firmware.sh (firmware codes).
func (r *Resolver) DefaultsFor(codename string) (Defaults, error) {
	root, err := r.RepoRoot()
	if err != nil {
		return Defaults{}, err
	}

	versionSh := filepath.Join(root, "unica", "configs", "version.sh")
	var d Defaults

	major, _ := ReadShellVar(versionSh, "UNICA_VERSION_MAJOR")
	minor, _ := ReadShellVar(versionSh, "UNICA_VERSION_MINOR")
	patch, _ := ReadShellVar(versionSh, "UNICA_VERSION_PATCH")
	suffix, _ := ReadShellVar(versionSh, "UNICA_VERSION_SUFFIX")
	d.VersionMajor = atoiOrZero(major)
	d.VersionMinor = atoiOrZero(minor)
	d.VersionPatch = atoiOrZero(patch)
	d.VersionSuffix = suffix

	targetDir := filepath.Join(root, "target", codename)
	if v, err := ReadShellVar(filepath.Join(targetDir, "source_firmware.sh"), "SOURCE_FIRMWARE"); err == nil {
		d.SourceFirmware = v
	}
	if v, err := ReadShellVar(filepath.Join(targetDir, "target_firmware.sh"), "TARGET_FIRMWARE"); err == nil {
		d.TargetFirmware = v
	}
	return d, nil
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
