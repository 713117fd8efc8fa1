// Package history recovers attachments from earlier turns when a message
// refers back to them.
package history

import (
	"strings"
)

const DefaultWindow = 5

type FileKind string

const (
	KindImage    FileKind = "image"
	KindDocument FileKind = "document"
	KindMedia    FileKind = "media"
)

// FileRef points at an uploaded file. URI is the identity.
type FileRef struct {
	URI      string   `json:"uri"`
	Name     string   `json:"name,omitempty"`
	MimeType string   `json:"mime_type,omitempty"`
	Kind     FileKind `json:"kind,omitempty"`
}

type Message struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Attachments []FileRef `json:"attachments,omitempty"`
}

var backReferencePhrases = []string{
	"el documento",
	"este documento",
	"ese documento",
	"documento anterior",
	"el archivo",
	"ese archivo",
	"archivo anterior",
	"el pdf",
	"ese pdf",
	"la imagen",
	"esa imagen",
	"la foto",
	"el adjunto",
	"lo que te envié",
	"lo que te envie",
	"lo que subí",
	"lo que subi",
	"lo que te mandé",
	"lo que te mande",
	"mismo caso",
	"el caso anterior",
}

// ExtractRecentFiles walks the last window messages from newest to oldest
// and returns their attachments once each, in first-seen order.
func ExtractRecentFiles(history []Message, window int) []FileRef {
	if window <= 0 {
		window = DefaultWindow
	}
	start := max(len(history)-window, 0)

	var files []FileRef
	seen := make(map[string]struct{})
	for i := len(history) - 1; i >= start; i-- {
		for _, ref := range history[i].Attachments {
			uri := strings.TrimSpace(ref.URI)
			if uri == "" {
				continue
			}
			if _, ok := seen[uri]; ok {
				continue
			}
			seen[uri] = struct{}{}
			ref.URI = uri
			if ref.Kind == "" {
				ref.Kind = KindFor(ref.MimeType)
			}
			files = append(files, ref)
		}
	}
	return files
}

// ShouldUseHistory reports whether a message without attachments points at
// something sent earlier.
func ShouldUseHistory(message string, hasCurrentFiles bool) bool {
	if hasCurrentFiles {
		return false
	}
	lower := strings.ToLower(message)
	for _, phrase := range backReferencePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func KindFor(mimeType string) FileKind {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "audio/"), strings.HasPrefix(mt, "video/"):
		return KindMedia
	default:
		return KindDocument
	}
}
