package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/folio-chat/folio/internal/knowledge"
	"github.com/folio-chat/folio/internal/log"
)

type fakeChunkStore struct {
	gotProject  int64
	gotFilename string
	gotChunks   []string
	err         error
}

func (f *fakeChunkStore) AddFile(_ context.Context, projectID int64, filename string, chunks []string) (int, error) {
	f.gotProject = projectID
	f.gotFilename = filename
	f.gotChunks = chunks
	if f.err != nil {
		return 0, f.err
	}
	return len(chunks), nil
}

func newTestIngestor(store *fakeChunkStore, maxBytes int64) *Ingestor {
	return New(store, knowledge.NewChunker(100, 20), maxBytes, log.NewNop())
}

func TestIngestFile(t *testing.T) {
	store := &fakeChunkStore{}
	in := newTestIngestor(store, 0)

	content := strings.Repeat("some document text. ", 20)
	stored, n, err := in.IngestFile(context.Background(), 7, "notes.md", []byte(content))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}

	if stored != "notes.md" {
		t.Errorf("stored filename = %q, want %q", stored, "notes.md")
	}
	if n != len(store.gotChunks) {
		t.Errorf("returned %d chunks, stored %d", n, len(store.gotChunks))
	}
	if n < 2 {
		t.Errorf("expected multiple chunks for %d bytes, got %d", len(content), n)
	}
	if store.gotProject != 7 || store.gotFilename != "notes.md" {
		t.Errorf("stored under project=%d filename=%q", store.gotProject, store.gotFilename)
	}
}

func TestIngestFileStripsPath(t *testing.T) {
	store := &fakeChunkStore{}
	in := newTestIngestor(store, 0)

	stored, _, err := in.IngestFile(context.Background(), 7, "../../etc/passwd.txt", []byte("harmless text"))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if stored != "passwd.txt" || store.gotFilename != "passwd.txt" {
		t.Errorf("stored as %q (store saw %q), want base name only", stored, store.gotFilename)
	}
}

func TestIngestFileRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		maxBytes int64
		wantErr  error
	}{
		{
			name:     "unsupported extension",
			filename: "binary.exe",
			data:     []byte("text"),
			wantErr:  ErrUnsupportedType,
		},
		{
			name:     "no extension",
			filename: "README",
			data:     []byte("text"),
			wantErr:  ErrUnsupportedType,
		},
		{
			name:     "over size cap",
			filename: "big.txt",
			data:     []byte(strings.Repeat("x", 100)),
			maxBytes: 50,
			wantErr:  ErrFileTooLarge,
		},
		{
			name:     "invalid utf8",
			filename: "garbled.txt",
			data:     []byte{0xff, 0xfe, 0x01},
			wantErr:  ErrNotText,
		},
		{
			name:     "empty content",
			filename: "blank.txt",
			data:     []byte("   \n\t  "),
			wantErr:  ErrEmptyFile,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newTestIngestor(&fakeChunkStore{}, tt.maxBytes)
			_, _, err := in.IngestFile(context.Background(), 1, tt.filename, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIngestFileStoreError(t *testing.T) {
	store := &fakeChunkStore{err: errors.New("db down")}
	in := newTestIngestor(store, 0)

	_, _, err := in.IngestFile(context.Background(), 1, "ok.txt", []byte("content"))
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestIngestFileCaseInsensitiveExtension(t *testing.T) {
	store := &fakeChunkStore{}
	in := newTestIngestor(store, 0)

	if _, _, err := in.IngestFile(context.Background(), 1, "NOTES.MD", []byte("content")); err != nil {
		t.Errorf("uppercase extension rejected: %v", err)
	}
}
