package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type firmwareStatus struct {
	Model             string `json:"model"`
	CSC               string `json:"csc"`
	LatestVersion     string `json:"latest_version"`
	DownloadedVersion string `json:"downloaded_version"`
	ExtractedVersion  string `json:"extracted_version"`
	UpToDate          bool   `json:"up_to_date"`
}

type defaultsResponse struct {
	Targets        []string          `json:"targets"`
	Target         string            `json:"target"`
	SourceFirmware string            `json:"source_firmware"`
	TargetFirmware string            `json:"target_firmware"`
	VersionMajor   int               `json:"version_major"`
	VersionMinor   int               `json:"version_minor"`
	VersionPatch   int               `json:"version_patch"`
	VersionSuffix  string            `json:"version_suffix"`
	SourceStatus   firmwareStatus    `json:"source_status"`
	TargetStatus   firmwareStatus    `json:"target_status"`
	RepoCommit     string            `json:"repo_commit"`
	LatestArtifact bool              `json:"latest_artifact_available"`
}

// handleDefaults fans in everything the dashboard's landing view needs
// in a single round trip: target list, the requested target's defaults,
// firmware freshness for both source and target firmware, the cached
// repo commit snapshot and whether a reusable artifact already exists.
func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	targets, err := s.deps.Resolver.TargetCodenames()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}

	target := r.URL.Query().Get("target")
	if target == "" && len(targets) > 0 {
		target = targets[0]
	}

	resp := defaultsResponse{Targets: targets, Target: target}
	if target != "" {
		defaults, err := s.deps.Resolver.DefaultsFor(target)
		if err == nil {
			resp.SourceFirmware = defaults.SourceFirmware
			resp.TargetFirmware = defaults.TargetFirmware
			resp.VersionMajor = defaults.VersionMajor
			resp.VersionMinor = defaults.VersionMinor
			resp.VersionPatch = defaults.VersionPatch
			resp.VersionSuffix = defaults.VersionSuffix
		}
		resp.SourceStatus = s.firmwareStatusFor(r.Context(), resp.SourceFirmware)
		resp.TargetStatus = s.firmwareStatusFor(r.Context(), resp.TargetFirmware)

		if job, err := s.deps.Jobs.LatestArtifactJob(r.Context(), target, artifactExists); err == nil {
			resp.LatestArtifact = job != nil
		}
	}

	if s.deps.CommitSnapshot != nil {
		if v, err := s.deps.CommitSnapshot.Fetch(r.Context(), "repo", nowFunc(), func(ctx context.Context) (any, error) {
			return currentSourceCommitForAPI(s.deps.Un1caRoot), nil
		}); err == nil {
			if commit, ok := v.(string); ok {
				resp.RepoCommit = commit
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// firmwareStatusFor resolves freshness for one MODEL/CSC/VERSION triple,
// using the firmware-latest cache (version.xml miss action) and the
// locally cached downloaded/extracted markers.
func (s *Server) firmwareStatusFor(ctx context.Context, firmware string) firmwareStatus {
	model, csc := parseModelCSC(firmware)
	if model == "" || csc == "" {
		return firmwareStatus{}
	}
	key := model + "_" + csc

	var latest string
	if s.deps.FirmwareLatest != nil {
		if v, err := s.deps.FirmwareLatest.Fetch(ctx, key, nowFunc(), func(ctx context.Context) (any, error) {
			return fetchLatestFirmwareVersion(ctx, model, csc)
		}); err == nil {
			if str, ok := v.(string); ok {
				latest = str
			}
		}
	}

	downloaded, extracted := s.localFirmwareVersions(key)
	return firmwareStatus{
		Model:             model,
		CSC:               csc,
		LatestVersion:     latest,
		DownloadedVersion: downloaded,
		ExtractedVersion:  extracted,
		UpToDate:          latest != "" && (downloaded == latest || extracted == latest),
	}
}

func parseModelCSC(firmware string) (model, csc string) {
	parts := strings.Split(firmware, "/")
	if len(parts) < 2 {
		return "", ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
