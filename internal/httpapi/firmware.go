package httpapi

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

const firmwareListConcurrency = 8

var fwKeyRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

type firmwareCard struct {
	Key           string `json:"key"`
	Model         string `json:"model"`
	CSC           string `json:"csc"`
	OdinVersion   string `json:"odin_version"`
	FwVersion     string `json:"fw_version"`
	LatestVersion string `json:"latest_version"`
	OdinSizeBytes int64  `json:"odin_size_bytes"`
	FwSizeBytes   int64  `json:"fw_size_bytes"`
	HasOdin       bool   `json:"has_odin"`
	HasFw         bool   `json:"has_fw"`
}

// handleFirmwareList collects the Odin/extracted-firmware cache into
// one card per MODEL_CSC key, resolving each key's "latest version"
// from Samsung's version.xml endpoint through a bounded worker pool so
// a slow or unreachable server never serializes the whole listing.
func (s *Server) handleFirmwareList(w http.ResponseWriter, r *http.Request) {
	cards := s.collectFirmwareCards()

	sem := make(chan struct{}, firmwareListConcurrency)
	var wg sync.WaitGroup
	for i := range cards {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if s.deps.FirmwareLatest == nil {
				return
			}
			v, err := s.deps.FirmwareLatest.Fetch(r.Context(), cards[i].Key, nowFunc(), func(ctx context.Context) (any, error) {
				return fetchLatestFirmwareVersion(ctx, cards[i].Model, cards[i].CSC)
			})
			if err == nil {
				if str, ok := v.(string); ok {
					cards[i].LatestVersion = str
				}
			}
		}(i)
	}
	wg.Wait()

	writeJSON(w, http.StatusOK, map[string]any{"items": cards})
}

func (s *Server) collectFirmwareCards() []firmwareCard {
	byKey := map[string]*firmwareCard{}
	var order []string

	scan := func(root string, isOdin bool) {
		entries, err := os.ReadDir(root)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			model, csc := splitModelCSCDir(e.Name())
			key := model
			if csc != "" {
				key = model + "_" + csc
			}
			card, ok := byKey[key]
			if !ok {
				card = &firmwareCard{Key: key, Model: model, CSC: csc}
				byKey[key] = card
				order = append(order, key)
			}
			dir := filepath.Join(root, e.Name())
			size := dirSizeBytes(dir)
			if isOdin {
				card.HasOdin = true
				card.OdinSizeBytes = size
				card.OdinVersion = readMarker(filepath.Join(dir, ".downloaded"))
			} else {
				card.HasFw = true
				card.FwSizeBytes = size
				card.FwVersion = readMarker(filepath.Join(dir, ".extracted"))
			}
		}
	}

	scan(filepath.Join(s.deps.OutDir, "odin"), true)
	scan(filepath.Join(s.deps.OutDir, "fw"), false)

	sort.Strings(order)
	cards := make([]firmwareCard, 0, len(order))
	for _, k := range order {
		cards = append(cards, *byKey[k])
	}
	return cards
}

func splitModelCSCDir(name string) (model, csc string) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return name, ""
}

func readMarker(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func dirSizeBytes(root string) int64 {
	var total int64
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

type versionXML struct {
	Latest string `xml:"latest"`
}

// fetchLatestFirmwareVersion queries Samsung's FUS version endpoint for
// model/csc. Network and parse failures are returned as errors so the
// cache in front of it serves its last value; callers leave the latest
// version empty when no value is available.
func fetchLatestFirmwareVersion(ctx context.Context, model, csc string) (string, error) {
	if model == "" || csc == "" {
		return "", nil
	}
	url := "https://fota-cloud-dn.ospserver.net/firmware/" + csc + "/" + model + "/version.xml"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 4 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", err
	}
	var parsed versionXML
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	return strings.TrimSpace(parsed.Latest), nil
}

func (s *Server) localFirmwareVersions(key string) (downloaded, extracted string) {
	downloaded = readMarker(filepath.Join(s.deps.OutDir, "odin", key, ".downloaded"))
	extracted = readMarker(filepath.Join(s.deps.OutDir, "fw", key, ".extracted"))
	return
}

// handleFirmwareDelete enqueues a delete operation for one cached
// firmware entry (odin or fw), run on the controls queue like any
// other filesystem-mutating operation.
func (s *Server) handleFirmwareDelete(w http.ResponseWriter, r *http.Request) {
	fwType := chi.URLParam(r, "fw_type")
	fwKey := chi.URLParam(r, "fw_key")
	if fwType != "odin" && fwType != "fw" {
		writeError(w, http.StatusBadRequest, "fw_type must be odin or fw")
		return
	}
	if !fwKeyRe.MatchString(fwKey) {
		writeError(w, http.StatusBadRequest, "invalid fw_key")
		return
	}

	if _, err := s.deps.ControlsQueue.Enqueue(r.Context(), "delete_firmware", map[string]string{
		"fw_type": fwType,
		"fw_key":  fwKey,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue delete")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "delete_requested"})
}

// handleFirmwareExtract enqueues extraction of a previously downloaded
// Odin package into the fw cache.
func (s *Server) handleFirmwareExtract(w http.ResponseWriter, r *http.Request) {
	fwKey := chi.URLParam(r, "fw_key")
	if !fwKeyRe.MatchString(fwKey) {
		writeError(w, http.StatusBadRequest, "invalid fw_key")
		return
	}

	if _, err := s.deps.ControlsQueue.Enqueue(r.Context(), "extract_firmware", map[string]string{
		"fw_key": fwKey,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue extract")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "extract_requested"})
}
