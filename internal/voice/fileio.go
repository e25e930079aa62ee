package voice

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// tempPrefix marks files this process owns so the janitor can find
// leftovers after a crash.
const tempPrefix = "voicechat-"

// SaveFileAtomic writes data to a hidden tmp file next to path, fsyncs it
// and renames it into place, so readers never observe a partial file.
func SaveFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	fail := func(err error) error {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Chmod(mode); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// newTempAudioPath returns a fresh, never reused file name for synthesized
// audio in dir.
func newTempAudioPath(dir string, audio []byte) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, tempPrefix+uuid.NewString()+audioExt(audio))
}

func audioExt(b []byte) string {
	switch {
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return ".wav"
	case bytes.HasPrefix(b, []byte("ID3")), len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return ".mp3"
	default:
		return ".audio"
	}
}
