package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"tick-replay/internal/recording"
	"tick-replay/internal/replay"
)

func (h *routerHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.viewer.Status())
}

// handleStats is a lightweight poll endpoint for dashboards.
func (h *routerHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	st := h.viewer.Status()
	stats := map[string]any{
		"active":    st.Active,
		"index":     st.Index,
		"length":    st.Length,
		"playing":   st.Playing,
		"entities":  st.Entities,
		"rateLimit": h.rateLimiter.Stats(),
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := h.viewer.Checkpoints()
	if err != nil {
		h.writeReplayError(w, err)
		return
	}
	writeJSON(w, cps)
}

func (h *routerHandlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	d, err := parseSeconds(r.URL.Query().Get("seconds"))
	if err != nil {
		writeError(w, "seconds must be a finite number", http.StatusBadRequest)
		return
	}
	index, err := h.viewer.GetIndex(d)
	if err != nil {
		h.writeReplayError(w, err)
		return
	}
	writeJSON(w, map[string]int{"index": index})
}

func (h *routerHandlers) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		writeError(w, "path is required", http.StatusBadRequest)
		return
	}

	// Requests cannot escape the recording directory.
	path := filepath.Join(h.recordingDir, filepath.Clean("/"+req.Path))
	h.log.WithField("path", path).Info("📼 Replay load requested via API")

	session, err := h.viewer.Load(r.Context(), path)
	if err != nil {
		h.writeReplayError(w, err)
		return
	}
	writeJSON(w, map[string]string{"session": session})
}

func (h *routerHandlers) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.viewer.StopReplay(); err != nil {
		h.writeReplayError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handlePlay(w http.ResponseWriter, r *http.Request) {
	h.setPlaying(w, true)
}

func (h *routerHandlers) handlePause(w http.ResponseWriter, r *http.Request) {
	h.setPlaying(w, false)
}

func (h *routerHandlers) setPlaying(w http.ResponseWriter, playing bool) {
	if err := h.viewer.SetPlaying(playing); err != nil {
		h.writeReplayError(w, err)
		return
	}
	writeJSON(w, h.viewer.Status())
}

func (h *routerHandlers) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int `json:"index"`
		Pause bool `json:"pause"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Index == nil {
		writeError(w, "index is required", http.StatusBadRequest)
		return
	}
	if err := h.viewer.SetIndex(*req.Index, req.Pause); err != nil {
		h.writeReplayError(w, err)
		return
	}
	writeJSON(w, h.viewer.Status())
}

func (h *routerHandlers) handleSeekTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds *float64 `json:"seconds"`
		Pause   bool     `json:"pause"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Seconds == nil || math.IsNaN(*req.Seconds) || math.IsInf(*req.Seconds, 0) {
		writeError(w, "seconds must be a finite number", http.StatusBadRequest)
		return
	}
	if err := h.viewer.SetTime(secondsToDuration(*req.Seconds), req.Pause); err != nil {
		h.writeReplayError(w, err)
		return
	}
	writeJSON(w, h.viewer.Status())
}

func (h *routerHandlers) handleScrub(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.viewer.SetScrubbingTarget(req.Index); err != nil {
		h.writeReplayError(w, err)
		return
	}
	writeJSON(w, h.viewer.Status())
}

func (h *routerHandlers) handleAutoPause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count *uint32 `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.viewer.SetAutoPauseCountdown(req.Count); err != nil {
		h.writeReplayError(w, err)
		return
	}
	writeJSON(w, h.viewer.Status())
}

func parseSeconds(raw string) (time.Duration, error) {
	s, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, strconv.ErrRange
	}
	return secondsToDuration(s), nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// replayErrorStatus maps playback errors to HTTP status codes.
func replayErrorStatus(err error) int {
	switch {
	case errors.Is(err, replay.ErrInvalidOperation):
		return http.StatusConflict
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, recording.ErrFormat), errors.Is(err, replay.ErrInvalidLog):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *routerHandlers) writeReplayError(w http.ResponseWriter, err error) {
	code := replayErrorStatus(err)
	if code >= http.StatusInternalServerError {
		h.log.WithError(err).Error("❌ Replay request failed")
	}
	writeError(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
