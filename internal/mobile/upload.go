package mobile

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/httpx"
)

var (
	errTooLarge = errors.New("file exceeds limit")
	errEmpty    = errors.New("empty file")
)

func newImageID() string { return uuid.NewString() }

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (t *tempUpload) cleanup() {
	t.f.Close()
	os.Remove(t.path)
}

func (t *tempUpload) ext() string {
	switch t.contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	}
	return filepath.Ext(t.filename)
}

// persistTemp streams part to a temp file, enforcing limit and sniffing the
// content type from the first 512 bytes.
func persistTemp(part *multipart.Part, dir string, limit int64) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp(dir, "chartsnap-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > limit {
				return fail(fmt.Errorf("%w (%d bytes)", errTooLarge, limit))
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fail(fmt.Errorf("read file: %w", readErr))
		}
	}
	if written == 0 {
		return fail(errEmpty)
	}
	filename := filepath.Base(part.FileName())
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = "mobile-upload"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: compress.DetectContentType(sniff),
		filename:    filename,
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

var uploadPage = template.Must(template.New("upload").Parse(`<!doctype html>
<html><head><meta name="viewport" content="width=device-width, initial-scale=1"><title>ChartSnap</title></head>
<body>
<form method="post" action="{{.Action}}" enctype="multipart/form-data">
<input type="file" name="file" accept="image/*" capture="environment" required>
<button type="submit">Upload</button>
</form>
</body></html>`))

func (s *Server) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session(r); err != nil {
		httpx.RespondError(w, http.StatusUnauthorized, "mobile session expired or invalid")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = uploadPage.Execute(w, map[string]string{"Action": r.URL.Path + "/images"})
}
