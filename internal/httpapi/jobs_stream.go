package httpapi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/WINGS-N/unica-wb/internal/store"
)

const pollInterval = time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleJobLogsSSE streams a job's log file as Server-Sent Events, one
// "data:" frame per line, from byte offset 0, polling for growth every
// second until the job reaches a terminal status.
func (s *Server) handleJobLogsSSE(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var offset int64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		lines, newOffset, readErr := readNewLines(job.LogPath, offset)
		if readErr == nil {
			offset = newOffset
			for _, line := range lines {
				fmt.Fprintf(w, "data: %s\n\n", line)
			}
			if len(lines) > 0 {
				flusher.Flush()
			}
		}

		job, err = s.deps.Jobs.GetJob(r.Context(), id)
		if err == nil && job.Status.Terminal() {
			fmt.Fprintf(w, "event: done\ndata: %s\n\n", job.Status)
			flusher.Flush()
			return
		}
	}
}

// readNewLines reads every complete line appended to path since offset,
// returning the new read offset (which may stop short of EOF if the
// file ends mid-line).
func readNewLines(path string, offset int64) ([]string, int64, error) {
	if path == "" {
		return nil, offset, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}

	var lines []string
	reader := bufio.NewReader(f)
	consumed := offset
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			lines = append(lines, line[:len(line)-1])
			consumed += int64(len(line))
		}
		if err != nil {
			break
		}
	}
	return lines, consumed, nil
}

type jobWSFrame struct {
	Type   string `json:"type"`
	Chunk  string `json:"chunk,omitempty"`
	Status string `json:"status,omitempty"`
}

// handleJobWS streams the tail of a job's log over a WebSocket: seek to
// max(0, size - tail_kb*1024), align forward to the next line boundary,
// then poll for growth, emitting {"type":"chunk"} frames until the job
// reaches a terminal status, at which point a {"type":"done"} frame is
// sent and the connection closes.
func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Jobs.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !s.authorizeWS(r) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCodeAuthFailed, "authentication required"),
			time.Now().Add(time.Second))
		return
	}

	tailKB := 0
	if v := r.URL.Query().Get("tail_kb"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tailKB = n
		}
	}
	if tailKB < 0 {
		tailKB = 0
	}
	if tailKB > 4096 {
		tailKB = 4096
	}

	offset := tailOffsetAlignedToLine(job.LogPath, tailKB)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		raw, newOffset, readErr := readNewBytes(job.LogPath, offset)
		if readErr == nil && len(raw) > 0 {
			offset = newOffset
			if err := conn.WriteJSON(jobWSFrame{Type: "chunk", Chunk: string(raw)}); err != nil {
				return
			}
		}

		job, err = s.deps.Jobs.GetJob(r.Context(), id)
		if err == nil && job.Status.Terminal() {
			_ = conn.WriteJSON(jobWSFrame{Type: "done", Status: string(job.Status)})
			return
		}
	}
}

func readNewBytes(path string, offset int64) ([]byte, int64, error) {
	if path == "" {
		return nil, offset, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, err
	}
	return buf, offset + int64(len(buf)), nil
}

// tailOffsetAlignedToLine returns max(0, size - tailKB*1024), then
// advances to the start of the next line so the first emitted chunk
// never begins mid-line.
func tailOffsetAlignedToLine(path string, tailKB int) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	size := info.Size()
	start := size - int64(tailKB)*1024
	if start < 0 {
		start = 0
	}
	if start == 0 {
		return 0
	}

	f, err := os.Open(path)
	if err != nil {
		return start
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return start
	}
	reader := bufio.NewReader(f)
	line, err := reader.ReadString('\n')
	if err != nil {
		return size // no newline found before EOF: nothing further to tail
	}
	return start + int64(len(line))
}
