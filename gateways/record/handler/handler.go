package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kolla/backend/gateways/record/clients/sign"
	httpjson "github.com/kolla/backend/pkg/json"
	"github.com/kolla/backend/services/pipeline/consts"
	"github.com/kolla/backend/services/pipeline/entity"
	"github.com/kolla/backend/services/pipeline/usecase"
)

// maxUploadBytes bounds one chunk upload. Browser recorders send chunks
// of a few MB; anything past this is a client bug.
const maxUploadBytes = 64 << 20

type Handler struct {
	pipeline usecase.Usecase
	sign     *sign.Client
	log      *slog.Logger
}

func New(pipeline usecase.Usecase, signClient *sign.Client, log *slog.Logger) *Handler {
	log.Debug("creating new handler")
	return &Handler{
		pipeline: pipeline,
		sign:     signClient,
		log:      log,
	}
}

type mergeRequest struct {
	MeetingID string `json:"meeting_id"`
}

type signPDFRequest struct {
	MeetingID string `json:"meeting_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	h.log.Debug("registering HTTP routes")
	r.Post("/api/stt_input", h.STTInput)
	r.Post("/api/merge_audio", h.MergeAudio)
	r.Post("/api/merge_transcript", h.MergeTranscript)
	r.Get("/api/merge_status/{job_id}", h.MergeStatus)
	r.Get("/api/meeting_files/{meeting_id}/{area}", h.ListMeetingFiles)
	r.Get("/api/meeting_files/{meeting_id}/{area}/{filename}", h.DownloadMeetingFile)
	r.Get("/api/merged_file/{meeting_id}", h.MergedFile)
	r.Get("/api/transcript_file/{meeting_id}", h.TranscriptFile)
	r.Post("/api/convert_pdf", h.ConvertPDF)
	r.Post("/api/sign_pdf", h.SignPDF)
	r.Get("/api/v1/health", h.HealthCheck)
	h.log.Info("all routes registered successfully")
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httpjson.WriteJSON(w, http.StatusOK, map[string]bool{"status": true})
}

// STTInput accepts one multipart audio chunk and queues its
// transcription. The response carries the job id for status polling.
func (h *Handler) STTInput(w http.ResponseWriter, r *http.Request) {
	h.log.Info("stt input request received",
		slog.String("remote_addr", r.RemoteAddr))

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.log.Warn("failed to parse multipart form", slog.String("error", err.Error()))
		httpjson.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, fmt.Errorf("missing file field"))
		return
	}
	defer file.Close()

	req := &usecase.IngestRequest{
		MeetingID:   r.FormValue("meeting_id"),
		UserID:      r.FormValue("user_id"),
		DisplayName: r.FormValue("full_name"),
		Role:        r.FormValue("role"),
		Timestamp:   r.FormValue("ts"),
		File:        file,
	}
	h.log.Debug("chunk upload",
		slog.String("meeting_id", req.MeetingID),
		slog.String("user_id", req.UserID),
		slog.String("filename", header.Filename),
		slog.Int64("size", header.Size))

	job, err := h.pipeline.IngestChunk(r.Context(), req)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job_id": job.ID,
	})
}

func (h *Handler) MergeAudio(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := httpjson.ParseJSON(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	h.log.Info("audio merge requested", slog.String("meeting_id", req.MeetingID))

	job, err := h.pipeline.RequestAudioMerge(r.Context(), req.MeetingID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "merge_queued",
		"job_id": job.ID,
	})
}

func (h *Handler) MergeTranscript(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := httpjson.ParseJSON(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	h.log.Info("transcript merge requested", slog.String("meeting_id", req.MeetingID))

	job, err := h.pipeline.RequestTranscriptMerge(r.Context(), req.MeetingID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "merge_queued",
		"job_id": job.ID,
	})
}

func (h *Handler) MergeStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := h.pipeline.JobStatus(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) ListMeetingFiles(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")
	area := chi.URLParam(r, "area")

	files, err := h.pipeline.ListMeetingFiles(r.Context(), meetingID, area)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	for i := range files {
		files[i].URL = fmt.Sprintf("/api/meeting_files/%s/%s/%s", meetingID, area, files[i].Filename)
	}
	httpjson.WriteJSON(w, http.StatusOK, map[string]any{
		"meeting_id": meetingID,
		"files":      files,
	})
}

func (h *Handler) DownloadMeetingFile(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")
	area := chi.URLParam(r, "area")
	filename := chi.URLParam(r, "filename")

	path, err := h.pipeline.MeetingFilePath(r.Context(), meetingID, area, filename)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// MergedFile serves the meeting's single current merged audio artifact.
func (h *Handler) MergedFile(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")

	files, err := h.pipeline.ListMeetingFiles(r.Context(), meetingID, consts.FinalArea)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	for _, f := range files {
		if !strings.HasSuffix(f.Filename, consts.FinalAudioExt) {
			continue
		}
		path, err := h.pipeline.MeetingFilePath(r.Context(), meetingID, consts.FinalArea, f.Filename)
		if err != nil {
			h.writeJobError(w, err)
			return
		}
		http.ServeFile(w, r, path)
		return
	}
	httpjson.WriteError(w, http.StatusNotFound, fmt.Errorf("no merged file for meeting %s", meetingID))
}

func (h *Handler) TranscriptFile(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")

	path, err := h.pipeline.MeetingFilePath(r.Context(), meetingID, consts.FinalArea, meetingID+consts.DocumentExt)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (h *Handler) ConvertPDF(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := httpjson.ParseJSON(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	h.log.Info("pdf conversion requested", slog.String("meeting_id", req.MeetingID))

	pdfPath, err := h.pipeline.ConvertPDF(r.Context(), req.MeetingID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "converted",
		"pdf_file": filepath.Base(pdfPath),
	})
}

// SignPDF forwards the signing request to the external sign service.
func (h *Handler) SignPDF(w http.ResponseWriter, r *http.Request) {
	var req signPDFRequest
	if err := httpjson.ParseJSON(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if req.MeetingID == "" || req.UserID == "" {
		httpjson.WriteError(w, http.StatusBadRequest, fmt.Errorf("meeting_id and user_id are required"))
		return
	}
	h.log.Info("pdf signing requested",
		slog.String("meeting_id", req.MeetingID),
		slog.String("user_id", req.UserID))

	resp, err := h.sign.SignPDF(r.Context(), req.MeetingID, req.UserID, req.UserName)
	if err != nil {
		h.log.Error("sign service call failed", slog.String("error", err.Error()))
		httpjson.WriteError(w, http.StatusBadGateway, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, resp)
}

// writeJobError maps pipeline errors onto HTTP statuses.
func (h *Handler) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrNoChunks):
		httpjson.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, entity.ErrMergeInProgress):
		httpjson.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, entity.ErrQueueFull):
		httpjson.WriteError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, entity.ErrJobNotFound), errors.Is(err, entity.ErrFileNotFound):
		httpjson.WriteError(w, http.StatusNotFound, err)
	default:
		h.log.Error("request failed", slog.String("error", err.Error()))
		httpjson.WriteError(w, http.StatusInternalServerError, err)
	}
}
