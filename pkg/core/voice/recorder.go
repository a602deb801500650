package voice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var errInvalidID = errors.New("invalid recording id")

// Recorder writes per-message recordings to
// {root}/{conversation_id}/{message_id}.wav.
type Recorder struct {
	root string
}

func NewRecorder(root string) *Recorder {
	if strings.TrimSpace(root) == "" {
		root = filepath.Join("store", "audio")
	}
	return &Recorder{root: root}
}

// Path returns where the recording for a message lives, whether or not it
// has been written yet.
func (r *Recorder) Path(conversationID, messageID string) (string, error) {
	if err := checkID(conversationID); err != nil {
		return "", err
	}
	if err := checkID(messageID); err != nil {
		return "", err
	}
	return filepath.Join(r.root, conversationID, messageID+".wav"), nil
}

// Save decodes mu-law telephony audio and writes it as a 16-bit PCM WAV.
// The file appears atomically so readers never see a partial recording.
func (r *Recorder) Save(conversationID, messageID string, mulaw []byte) (string, error) {
	if len(mulaw) == 0 {
		return "", fmt.Errorf("no audio to save")
	}
	path, err := r.Path(conversationID, messageID)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, messageID+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp audio file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(MulawToWAV(mulaw)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close audio file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename audio file: %w", err)
	}
	return path, nil
}

// List returns the conversation's recordings sorted by path.
func (r *Recorder) List(conversationID string) ([]string, error) {
	if err := checkID(conversationID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(r.root, conversationID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list audio: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		out = append(out, filepath.Join(r.root, conversationID, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// RemoveConversation deletes every recording of a conversation.
func (r *Recorder) RemoveConversation(conversationID string) error {
	if err := checkID(conversationID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(r.root, conversationID)); err != nil {
		return fmt.Errorf("remove audio: %w", err)
	}
	return nil
}

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", errInvalidID, id)
	}
	return nil
}
