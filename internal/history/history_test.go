package history

import (
	"reflect"
	"testing"
)

func TestExtractRecentFilesWindowAndOrder(t *testing.T) {
	history := []Message{
		{Role: "user", Attachments: []FileRef{{URI: "gs://old.pdf"}}},
		{Role: "user", Attachments: []FileRef{{URI: "gs://a.pdf", MimeType: "application/pdf"}}},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Attachments: []FileRef{{URI: "gs://b.png", MimeType: "image/png"}, {URI: "gs://a.pdf"}}},
		{Role: "assistant", Content: "listo"},
		{Role: "user", Attachments: []FileRef{{URI: "gs://c.mp3", MimeType: "audio/mpeg"}}},
	}

	got := ExtractRecentFiles(history, 5)
	want := []FileRef{
		{URI: "gs://c.mp3", MimeType: "audio/mpeg", Kind: KindMedia},
		{URI: "gs://b.png", MimeType: "image/png", Kind: KindImage},
		{URI: "gs://a.pdf", Kind: KindDocument},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractRecentFiles = %+v, want %+v", got, want)
	}
}

func TestExtractRecentFilesDefaultsWindow(t *testing.T) {
	history := make([]Message, 8)
	history[0].Attachments = []FileRef{{URI: "gs://outside"}}
	history[3].Attachments = []FileRef{{URI: "gs://inside"}}

	got := ExtractRecentFiles(history, 0)
	if len(got) != 1 || got[0].URI != "gs://inside" {
		t.Fatalf("expected only the in-window file, got %+v", got)
	}
}

func TestExtractRecentFilesSkipsBlankURIs(t *testing.T) {
	got := ExtractRecentFiles([]Message{{Attachments: []FileRef{{URI: "  "}, {URI: " gs://x "}}}}, 5)
	if len(got) != 1 || got[0].URI != "gs://x" {
		t.Fatalf("unexpected %+v", got)
	}
	if ExtractRecentFiles(nil, 5) != nil {
		t.Fatal("expected nil for empty history")
	}
}

func TestShouldUseHistory(t *testing.T) {
	tests := []struct {
		message  string
		hasFiles bool
		want     bool
	}{
		{"Analiza EL DOCUMENTO que subí ayer", false, true},
		{"¿qué dice lo que te envié?", false, true},
		{"sigue con el mismo caso", false, true},
		{"analiza el documento", true, false},
		{"¿cuál es el protocolo de acoso?", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := ShouldUseHistory(tt.message, tt.hasFiles); got != tt.want {
			t.Fatalf("ShouldUseHistory(%q, %v) = %v, want %v", tt.message, tt.hasFiles, got, tt.want)
		}
	}
}
