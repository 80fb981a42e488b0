package chat

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/temporalos/chatkit/internal/protocol"
	"github.com/temporalos/chatkit/internal/shared/id"
)

// StagedFile is a file chosen for the next message but not yet sent.
type StagedFile struct {
	ID       string
	Name     string
	Path     string
	MimeType string
	Size     int64
}

// Staging holds files selected for the next outbound message. Files are
// converted to transferable payloads only at send time.
type Staging struct {
	mu    sync.Mutex
	files []StagedFile
}

// NewStaging creates an empty staging area.
func NewStaging() *Staging {
	return &Staging{}
}

// AddPath stages the file at path. The MIME type is sniffed from content.
func (st *Staging) AddPath(path string) (StagedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return StagedFile{}, fmt.Errorf("failed to stage %s: %w", path, err)
	}
	if info.IsDir() {
		return StagedFile{}, fmt.Errorf("failed to stage %s: is a directory", path)
	}

	mime := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		mime = mt.String()
	}

	f := StagedFile{
		ID:       id.NewAttachmentID().String(),
		Name:     filepath.Base(path),
		Path:     path,
		MimeType: mime,
		Size:     info.Size(),
	}

	st.mu.Lock()
	st.files = append(st.files, f)
	st.mu.Unlock()
	return f, nil
}

// Remove unstages the file with the given ID.
func (st *Staging) Remove(fileID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, f := range st.files {
		if f.ID == fileID {
			st.files = append(st.files[:i], st.files[i+1:]...)
			return true
		}
	}
	return false
}

// Clear discards all staged files.
func (st *Staging) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.files = nil
}

// Files returns a snapshot of the staged files.
func (st *Staging) Files() []StagedFile {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]StagedFile, len(st.files))
	copy(out, st.files)
	return out
}

// HasFiles reports whether anything is staged.
func (st *Staging) HasFiles() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.files) > 0
}

// Attachments builds the preview list shown on the local message bubble.
func (st *Staging) Attachments() []Attachment {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.files) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(st.files))
	for _, f := range st.files {
		out = append(out, Attachment{
			Name:      f.Name,
			MimeType:  f.MimeType,
			SizeBytes: f.Size,
		})
	}
	return out
}

// Payloads reads every staged file and base64-encodes it for transmission.
// Any read failure aborts the whole conversion; the staging area is left
// untouched so the caller can retry.
func (st *Staging) Payloads() ([]protocol.Attachment, error) {
	files := st.Files()
	if len(files) == 0 {
		return nil, nil
	}

	out := make([]protocol.Attachment, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", f.Name, err)
		}
		out = append(out, protocol.Attachment{
			Name:     f.Name,
			MimeType: f.MimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
			Size:     f.Size,
		})
	}
	return out, nil
}
