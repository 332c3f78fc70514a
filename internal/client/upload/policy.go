// Package upload turns user files into upload payloads, enforcing the
// server's spontaneous file upload policy.
package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"chatwire/internal/types"
)

// Rejection codes.
const (
	CodeFileTooLarge  = "file-too-large"
	CodeInvalidType   = "file-invalid-type"
	CodeTooManyFiles  = "too-many-files"
	CodeUploadOff     = "upload-disabled"
	CodeReadFailed    = "file-read-failed"
	CodeUploadFailed  = "upload-failed"
	sniffLen          = 512
	bytesPerMegabyte  = 1 << 20
	defaultMaxFiles   = 20
	defaultMaxSizeMiB = 500
)

// File is one candidate upload. Open is called at most once per Submit.
type File struct {
	Name string
	Size int64
	Type string
	Open func() (io.ReadCloser, error)
}

// FromPath describes a file on disk.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Type: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// FromBytes describes an in-memory file.
func FromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Size: int64(len(data)),
		Type: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// Rejection explains why a file was not uploaded.
type Rejection struct {
	File    string
	Code    string
	Message string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.File, r.Message)
}

// Policy mirrors the server's upload feature settings.
type Policy struct {
	Enabled      bool
	MaxFiles     int
	MaxSizeBytes int64
	// Accept holds MIME types, type/* wildcards or .ext extensions. Empty
	// accepts everything.
	Accept []string
}

func PolicyFromFeature(f types.UploadFeature) Policy {
	maxFiles := f.MaxFiles
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	maxMB := f.MaxSizeMB
	if maxMB <= 0 {
		maxMB = defaultMaxSizeMiB
	}
	accept := make([]string, 0, len(f.Accept))
	for _, a := range f.Accept {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			accept = append(accept, a)
		}
	}
	return Policy{
		Enabled:      f.Enabled,
		MaxFiles:     maxFiles,
		MaxSizeBytes: int64(maxMB) * bytesPerMegabyte,
		Accept:       accept,
	}
}

// Allows reports whether a file name and MIME type match the accept list.
func (p Policy) Allows(name, mimeType string) bool {
	if len(p.Accept) == 0 {
		return true
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range p.Accept {
		switch {
		case a == "*" || a == "*/*":
			return true
		case strings.HasPrefix(a, "."):
			if ext == a {
				return true
			}
		case strings.HasSuffix(a, "/*"):
			if mimeType != "" && strings.HasPrefix(mimeType, strings.TrimSuffix(a, "*")) {
				return true
			}
		default:
			if mimeType == a {
				return true
			}
		}
	}
	return false
}

// Validate splits a batch into accepted files and rejections. A rejected
// file never blocks the others; files past MaxFiles are rejected in order.
func (p Policy) Validate(files []File) ([]File, []Rejection) {
	var accepted []File
	var rejected []Rejection
	for _, f := range files {
		if !p.Enabled {
			rejected = append(rejected, Rejection{File: f.Name, Code: CodeUploadOff, Message: "file upload is disabled"})
			continue
		}
		if r, ok := p.check(f); !ok {
			rejected = append(rejected, r)
			continue
		}
		if p.MaxFiles > 0 && len(accepted) >= p.MaxFiles {
			rejected = append(rejected, Rejection{
				File: f.Name, Code: CodeTooManyFiles,
				Message: fmt.Sprintf("at most %d files can be uploaded", p.MaxFiles),
			})
			continue
		}
		accepted = append(accepted, f)
	}
	return accepted, rejected
}

func (p Policy) check(f File) (Rejection, bool) {
	if p.MaxSizeBytes > 0 && f.Size > p.MaxSizeBytes {
		return p.tooLarge(f.Name), false
	}
	if !p.Allows(f.Name, f.Type) {
		return Rejection{
			File: f.Name, Code: CodeInvalidType,
			Message: fmt.Sprintf("file type %q is not accepted", displayType(f)),
		}, false
	}
	return Rejection{}, true
}

func (p Policy) tooLarge(name string) Rejection {
	return Rejection{
		File: name, Code: CodeFileTooLarge,
		Message: fmt.Sprintf("file is larger than %d MB", p.MaxSizeBytes/bytesPerMegabyte),
	}
}

func displayType(f File) string {
	if f.Type != "" {
		return f.Type
	}
	if ext := filepath.Ext(f.Name); ext != "" {
		return ext
	}
	return "unknown"
}

// DetectType prefers the declared type, then the extension, then the
// content.
func DetectType(name, declared string, head []byte) string {
	if t := strings.TrimSpace(declared); t != "" {
		return t
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	return http.DetectContentType(head)
}
