// Package attachments stores chat files with an external file service and
// classifies them for the message record.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sakani/sakani_backend/models"
)

// LocalPrefix is the host-relative prefix of files served by this process.
const LocalPrefix = "uploads/"

var (
	ErrUnsupportedFile = errors.New("invalid file type. Only PDF, JPEG, and PNG are allowed")
	ErrNoSigner        = errors.New("upload signing is not available for this storage")
)

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".jpeg": true,
	".jpg":  true,
	".png":  true,
}

var imageExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Storage persists an uploaded file and returns a stable reference to it.
type Storage interface {
	Save(ctx context.Context, file *multipart.FileHeader) (string, error)
}

// Signer issues parameters that let a client upload straight to the file service.
type Signer interface {
	SignUpload() (UploadSignature, error)
}

type UploadSignature struct {
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	APIKey    string `json:"api_key"`
	Folder    string `json:"folder"`
}

// Allowed reports whether filename has one of the accepted extensions.
func Allowed(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// MediaType returns the declared media type of file, sniffing the content when the
// client sent none or the generic application/octet-stream.
func MediaType(file *multipart.FileHeader) (string, error) {
	declared := strings.TrimSpace(file.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}

	f, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("detect media type: %w", err)
	}
	return mt.String(), nil
}

// KindForMediaType maps image/* to an image attachment and anything else to a document.
func KindForMediaType(mediaType string) models.AttachmentKind {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/") {
		return models.AttachmentImage
	}
	return models.AttachmentDocument
}

// KindForRef guesses the attachment kind from the extension of ref.
func KindForRef(ref string) models.AttachmentKind {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	if imageExtensions[strings.ToLower(path.Ext(p))] {
		return models.AttachmentImage
	}
	return models.AttachmentDocument
}

// NormalizeRef rewrites references to locally served uploads, whether given as a full
// URL or an absolute path, to the host-relative "uploads/..." form. Other references
// are returned trimmed but otherwise untouched.
func NormalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	p := ref
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		p = u.Path
	}
	if trimmed := strings.TrimPrefix(p, "/"); strings.HasPrefix(trimmed, LocalPrefix) {
		return trimmed
	}
	return ref
}

func storedName(filename string, now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), filepath.Base(filename))
}
