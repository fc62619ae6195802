// Package cleanup removes stale override directories left behind by
// prior runs, on service startup.
package cleanup

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Result tallies what Run removed, per category, for a single log line.
type Result struct {
	UploadedOverrides int
	TmpExtraMods      int
}

// Run removes directories under <un1caRoot>/unica/mods/.uploaded-* and
// everything under <dataDir>/tmp-extra-mods/*, counting removals per
// category and logging one summary line.
func Run(un1caRoot, dataDir string) Result {
	var res Result

	res.UploadedOverrides = removeGlob(filepath.Join(un1caRoot, "unica", "mods", ".uploaded-*"))
	res.TmpExtraMods = removeGlob(filepath.Join(dataDir, "tmp-extra-mods", "*"))

	logrus.WithFields(logrus.Fields{
		"uploaded_overrides": res.UploadedOverrides,
		"tmp_extra_mods":     res.TmpExtraMods,
	}).Info("startup cleanup removed stale override directories")

	return res
}

func removeGlob(pattern string) int {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		logrus.WithError(err).WithField("pattern", pattern).Warn("cleanup: bad glob pattern")
		return 0
	}
	count := 0
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			logrus.WithError(err).WithField("path", m).Warn("cleanup: failed to remove stale directory")
			continue
		}
		count++
	}
	return count
}
