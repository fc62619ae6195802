package materializer

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// ModuleManifest is a single module.prop's parsed key/value pairs, the
// same shape the archive validator (C11) produces for uploads.
type ModuleManifest map[string]string

// loadFloatingFeatureDefaults reads a flat key=value file of floating
// feature overrides for codename. Real Samsung floating_feature.xml
// parsing is explicitly out of scope; this service only ever sees the
// flattened view the repository already materializes per target.
func loadFloatingFeatureDefaults(repoRoot, codename string) (map[string]string, error) {
	path := filepath.Join(repoRoot, "target", codename, "floating_feature.defaults")
	return readKeyValueFile(path)
}

// loadDebloatCatalog reads the two debloat package-id lists (system and
// product) for codename.
func loadDebloatCatalog(repoRoot, codename string) (system, product []string, err error) {
	system, err = readLines(filepath.Join(repoRoot, "target", codename, "debloat_system.list"))
	if err != nil {
		return nil, nil, err
	}
	product, err = readLines(filepath.Join(repoRoot, "target", codename, "debloat_product.list"))
	if err != nil {
		return nil, nil, err
	}
	return system, product, nil
}

// loadModCatalog lists the known module ids under <root>/unica/mods,
// one id per directory containing a module.prop.
func loadModCatalog(repoRoot string) (map[string]bool, error) {
	root := filepath.Join(repoRoot, "unica", "mods")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}

	ids := map[string]bool{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".uploaded-") {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), "module.prop")); err == nil {
			ids[e.Name()] = true
		}
	}
	return ids, nil
}

func readKeyValueFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, scanner.Err()
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

func marshalOrEmpty(v any) string {
	if v == nil {
		return "[]"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
