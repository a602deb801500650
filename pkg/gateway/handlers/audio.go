package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vango-go/vai-phone/pkg/core/voice"
	"github.com/vango-go/vai-phone/pkg/gateway/apierror"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

type AudioStore interface {
	GetMessage(ctx context.Context, conversationID, messageID string) (store.Message, error)
	AttachAudio(ctx context.Context, messageID, path string) error
}

// MessageAudioHandler serves the WAV recording of one message. Audio is
// written after the message row, so a message without a file yet answers 404
// with code audio_pending.
type MessageAudioHandler struct {
	Store    AudioStore
	Recorder *voice.Recorder
	Logger   *slog.Logger
}

func (h MessageAudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")
	messageID := r.PathValue("message_id")

	msg, err := h.Store.GetMessage(r.Context(), conversationID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, apierror.ErrNotFound, "", "Message not found in conversation")
		return
	}
	if err != nil {
		loggerOr(h.Logger).Error("load message failed", "conversation_id", conversationID, "message_id", messageID, "err", err)
		writeError(w, r, http.StatusInternalServerError, apierror.ErrAPI, "", "internal error")
		return
	}

	path := strings.TrimSpace(msg.AudioFilePath)
	if path == "" {
		// The save may have finished without the reference being attached.
		path = h.recordedPath(r.Context(), msg)
		if path == "" {
			writeError(w, r, http.StatusNotFound, apierror.ErrNotFound, "audio_pending", "Audio not available for this message yet")
			return
		}
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, r, http.StatusNotFound, apierror.ErrNotFound, "", "Audio file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, r, http.StatusNotFound, apierror.ErrNotFound, "", "Audio file not found")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `inline; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (h MessageAudioHandler) recordedPath(ctx context.Context, msg store.Message) string {
	if h.Recorder == nil {
		return ""
	}
	path, err := h.Recorder.Path(msg.ConversationID, msg.ID)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	if err := h.Store.AttachAudio(ctx, msg.ID, path); err != nil {
		loggerOr(h.Logger).Warn("attach recorded audio failed", "message_id", msg.ID, "err", err)
	}
	return path
}

// RecordingsHandler lists the recordings saved for a conversation.
type RecordingsHandler struct {
	Recorder *voice.Recorder
}

func (h RecordingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")
	if h.Recorder == nil {
		writeError(w, r, http.StatusNotFound, apierror.ErrNotFound, "", "recordings are not enabled")
		return
	}
	files, err := h.Recorder.List(conversationID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, apierror.ErrInvalidRequest, "", err.Error())
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"files":           files,
	})
}
