package textextract

import (
	"context"
	"errors"
	"testing"
)

type stubExtractor struct {
	text  string
	calls int
}

func (s *stubExtractor) ExtractText(ctx context.Context, document []byte) (string, error) {
	s.calls++
	return s.text, nil
}

func TestPDFRejectsNonPDFInput(t *testing.T) {
	tests := []struct {
		name     string
		document []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"png header", []byte("\x89PNG\r\n\x1a\n....")},
		{"text", []byte("just some text")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPDF().ExtractText(context.Background(), tt.document)
			if !errors.Is(err, ErrUnreadable) {
				t.Errorf("expected ErrUnreadable, got %v", err)
			}
		})
	}
}

func TestJoinPageTokens(t *testing.T) {
	got := JoinPageTokens("  10/06   Supermercado\tXYZ \n  R$ 250,75  ")
	want := "10/06 Supermercado XYZ R$ 250,75"
	if got != want {
		t.Errorf("JoinPageTokens() = %q, want %q", got, want)
	}
}

func TestPlainText(t *testing.T) {
	got, err := PlainText{}.ExtractText(context.Background(), []byte("10/06 Aluguel 1.500,00\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "10/06 Aluguel 1.500,00\n" {
		t.Errorf("PlainText returned %q", got)
	}

	if _, err := (PlainText{}).ExtractText(context.Background(), []byte{0xff, 0xfe, 0xfd}); !errors.Is(err, ErrUnreadable) {
		t.Errorf("expected ErrUnreadable for invalid UTF-8, got %v", err)
	}
}

func TestByContentTypeRouting(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		plain       bool
		want        string
		wantErr     bool
	}{
		{"declared pdf", "application/pdf", true, "from pdf", false},
		{"empty type defaults to pdf", "", true, "from pdf", false},
		{"octet stream is pdf", "application/octet-stream", true, "from pdf", false},
		{"text with charset", "text/plain; charset=utf-8", true, "from plain", false},
		{"text without plain extractor", "text/plain", false, "", true},
		{"html", "text/html", true, "", true},
		{"malformed", "text/", true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewByContentType(&stubExtractor{text: "from pdf"}, nil)
			if tt.plain {
				router.Plain = &stubExtractor{text: "from plain"}
			}

			ex, err := router.For(tt.contentType)
			if tt.wantErr {
				if !errors.Is(err, ErrUnreadable) {
					t.Fatalf("For(%q) error = %v, want ErrUnreadable", tt.contentType, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("For(%q): %v", tt.contentType, err)
			}
			got, _ := ex.ExtractText(context.Background(), []byte("%PDF-1.7\n..."))
			if got != tt.want {
				t.Errorf("For(%q) routed to %q, want %q", tt.contentType, got, tt.want)
			}
		})
	}
}
