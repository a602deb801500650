package voice

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestMulawToPCM16_KnownValues(t *testing.T) {
	t.Parallel()
	pcm := MulawToPCM16([]byte{0xFF, 0x7F, 0x00, 0x80})
	if len(pcm) != 8 {
		t.Fatalf("len=%d, want 8", len(pcm))
	}
	want := []int16{0, 0, -32124, 32124}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if got != w {
			t.Fatalf("sample[%d]=%d, want %d", i, got, w)
		}
	}
}

func TestMulawToWAV_Header(t *testing.T) {
	t.Parallel()
	wav := MulawToWAV(make([]byte, 160))
	if len(wav) != 44+320 {
		t.Fatalf("len=%d, want %d", len(wav), 44+320)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", wav[:40])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 8000 {
		t.Fatalf("sample rate=%d, want 8000", rate)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Fatalf("channels=%d, want 1", ch)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Fatalf("bits=%d, want 16", bits)
	}
	if n := binary.LittleEndian.Uint32(wav[40:44]); n != 320 {
		t.Fatalf("data size=%d, want 320", n)
	}
}

func TestRecorder_SaveListRemove(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "audio")
	r := NewRecorder(root)

	path, err := r.Save("conv-1", "msg-1", []byte{0xFF, 0xFF})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if want := filepath.Join(root, "conv-1", "msg-1.wav"); path != want {
		t.Fatalf("path=%q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 48 {
		t.Fatalf("file size=%d, want 48", len(data))
	}
	if _, err := r.Save("conv-1", "msg-2", []byte{0x00}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	files, err := r.List("conv-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "msg-1.wav" {
		t.Fatalf("files=%v", files)
	}

	if err := r.RemoveConversation("conv-1"); err != nil {
		t.Fatalf("RemoveConversation: %v", err)
	}
	files, err = r.List("conv-1")
	if err != nil || len(files) != 0 {
		t.Fatalf("files=%v err=%v after remove", files, err)
	}
}

func TestRecorder_RejectsUnsafeIDs(t *testing.T) {
	t.Parallel()
	r := NewRecorder(t.TempDir())
	if _, err := r.Save("../escape", "m", []byte{1}); err == nil {
		t.Fatalf("expected error for traversal conversation id")
	}
	if _, err := r.Path("c", "a/b"); err == nil {
		t.Fatalf("expected error for nested message id")
	}
	if _, err := r.Save("c", "m", nil); err == nil {
		t.Fatalf("expected error for empty audio")
	}
}
