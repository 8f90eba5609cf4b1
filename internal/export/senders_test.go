package export

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/job"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func identityRender(src string) (string, error) { return src, nil }

func TestFolderSenderCopies(t *testing.T) {
	src := writeSource(t, "scan.pdf", "%PDF-1.4 content")
	out := t.TempDir()

	req := Request{
		SourcePath: src,
		Filename:   "invoice_0042.pdf",
		Render:     identityRender,
		Dest: config.Export{
			Kind:   config.KindFolder,
			Folder: &config.FolderTarget{Path: out},
		},
	}
	target, err := FolderSender{}.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "invoice_0042.pdf"), target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 content", string(data))

	// Source must stay for other destinations.
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestFolderSenderCreatesSubfolder(t *testing.T) {
	src := writeSource(t, "scan.pdf", "x")
	out := t.TempDir()

	req := Request{
		SourcePath: src,
		Filename:   "scan.pdf",
		Render:     identityRender,
		Dest: config.Export{
			Kind:   config.KindFolder,
			Folder: &config.FolderTarget{Path: out, Subfolder: "acme"},
		},
	}
	target, err := FolderSender{}.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "acme", "scan.pdf"), target)
}

func TestFolderSenderCollisionSuffix(t *testing.T) {
	src := writeSource(t, "scan.pdf", "new")
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "scan.pdf"), []byte("old"), 0o644))

	req := Request{
		SourcePath: src,
		Filename:   "scan.pdf",
		Render:     identityRender,
		Dest: config.Export{
			Kind:   config.KindFolder,
			Folder: &config.FolderTarget{Path: out},
		},
	}
	target, err := FolderSender{}.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "scan_1.pdf"), target)

	// The pre-existing file is untouched.
	old, _ := os.ReadFile(filepath.Join(out, "scan.pdf"))
	assert.Equal(t, "old", string(old))

	target2, err := FolderSender{}.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "scan_2.pdf"), target2)
}

func TestFolderSenderCollisionOverwrite(t *testing.T) {
	src := writeSource(t, "scan.pdf", "new")
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "scan.pdf"), []byte("old"), 0o644))

	req := Request{
		SourcePath: src,
		Filename:   "scan.pdf",
		Render:     identityRender,
		Dest: config.Export{
			Kind:   config.KindFolder,
			Folder: &config.FolderTarget{Path: out, OnCollision: "overwrite"},
		},
	}
	target, err := FolderSender{}.Send(context.Background(), req)
	require.NoError(t, err)

	data, _ := os.ReadFile(target)
	assert.Equal(t, "new", string(data))
}

func TestFolderSenderCollisionFail(t *testing.T) {
	src := writeSource(t, "scan.pdf", "new")
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "scan.pdf"), []byte("old"), 0o644))

	req := Request{
		SourcePath: src,
		Filename:   "scan.pdf",
		Render:     identityRender,
		Dest: config.Export{
			Kind:   config.KindFolder,
			Folder: &config.FolderTarget{Path: out, OnCollision: "fail"},
		},
	}
	_, err := FolderSender{}.Send(context.Background(), req)
	assert.Error(t, err)
}

func TestArchiveSenderPartitionsByDate(t *testing.T) {
	src := writeSource(t, "scan.pdf", "x")
	root := t.TempDir()
	fixed := time.Date(2025, time.June, 20, 14, 30, 0, 0, time.UTC)

	req := Request{
		SourcePath: src,
		Filename:   "scan.pdf",
		Render:     identityRender,
		Dest: config.Export{
			Kind:    config.KindArchive,
			Archive: &config.ArchiveTarget{Root: root},
		},
	}
	target, err := ArchiveSender{Now: func() time.Time { return fixed }}.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2025", "06", "20", "scan.pdf"), target)
}

func TestArchiveSenderNeverOverwrites(t *testing.T) {
	src := writeSource(t, "scan.pdf", "second")
	root := t.TempDir()
	fixed := time.Date(2025, time.June, 20, 0, 0, 0, 0, time.UTC)
	dir := filepath.Join(root, "2025", "06", "20")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.pdf"), []byte("first"), 0o644))

	req := Request{
		SourcePath: src,
		Filename:   "scan.pdf",
		Render:     identityRender,
		Dest: config.Export{
			Kind:    config.KindArchive,
			Archive: &config.ArchiveTarget{Root: root},
		},
	}
	target, err := ArchiveSender{Now: func() time.Time { return fixed }}.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scan_1.pdf"), target)
}

func TestSidecarsWrittenAfterDelivery(t *testing.T) {
	src := writeSource(t, "scan.pdf", "content")
	out := t.TempDir()

	e := NewEngine(testLogger(), nil, []Sender{FolderSender{}},
		WithClock(func() time.Time {
			return time.Date(2025, time.June, 20, 14, 30, 5, 0, time.UTC)
		}))

	dest := config.Export{
		ID:     "main",
		Kind:   config.KindFolder,
		Retry:  fastRetry(1),
		Folder: &config.FolderTarget{Path: out},
		Metadata: &config.Metadata{
			Sidecar:     true,
			IncludeText: true,
			Fields:      map[string]string{"customer": "<Customer>"},
		},
	}

	j := job.New("invoices", src)
	require.NoError(t, j.Set("Customer", "acme"))
	require.NoError(t, j.Set("OCRText", "Invoice 4711 for ACME"))

	sum := e.Dispatch(context.Background(), j, src, []config.Export{dest})
	require.Equal(t, 1, sum.Succeeded)

	delivered := filepath.Join(out, "scan.pdf")

	metaRaw, err := os.ReadFile(delivered + ".meta.json")
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(metaRaw, &meta))
	assert.Equal(t, "invoices", meta["hotfolder"])
	assert.Equal(t, "main", meta["destination"])

	variables := meta["variables"].(map[string]any)
	assert.Equal(t, "acme", variables["Customer"])
	_, hasText := variables["OCRText"]
	assert.False(t, hasText, "text layer must not leak into metadata")

	fields := meta["fields"].(map[string]any)
	assert.Equal(t, "acme", fields["customer"])

	text, err := os.ReadFile(filepath.Join(out, "scan.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Invoice 4711 for ACME", string(text))
}

func TestEmailSenderBuildsMessage(t *testing.T) {
	src := writeSource(t, "scan.pdf", "attachment-bytes")

	var got Message
	transport := mailFunc(func(ctx context.Context, msg Message) error {
		got = msg
		return nil
	})

	req := Request{
		SourcePath: src,
		Filename:   "invoice.pdf",
		Render:     identityRender,
		Dest: config.Export{
			Kind: config.KindEmail,
			Email: &config.EmailTarget{
				To:      []string{"ap@example.com"},
				CC:      []string{"archive@example.com"},
				Subject: "Invoice arrived",
				Body:    "See attachment.",
			},
		},
	}
	target, err := EmailSender{Transport: transport, From: "scanner@example.com"}.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, target, "ap@example.com")

	assert.Equal(t, "scanner@example.com", got.From)
	assert.Equal(t, []string{"ap@example.com"}, got.To)
	assert.Equal(t, []string{"archive@example.com"}, got.CC)
	assert.Equal(t, "Invoice arrived", got.Subject)
	assert.Equal(t, "invoice.pdf", got.AttachmentName)
}

func TestEmailSenderRequiresFrom(t *testing.T) {
	req := Request{
		Render: identityRender,
		Dest: config.Export{
			Kind:  config.KindEmail,
			Email: &config.EmailTarget{To: []string{"x@example.com"}},
		},
	}
	_, err := EmailSender{Transport: mailFunc(func(context.Context, Message) error { return nil })}.Send(context.Background(), req)
	assert.Error(t, err)
}

func TestEncodeMessageMIME(t *testing.T) {
	src := writeSource(t, "scan.pdf", "binary")
	msg := Message{
		From:           "a@example.com",
		To:             []string{"b@example.com"},
		Subject:        "Prüfung",
		Body:           "hello",
		AttachmentPath: src,
		AttachmentName: "scan.pdf",
	}
	payload, err := encodeMessage(msg)
	require.NoError(t, err)

	s := string(payload)
	assert.Contains(t, s, "From: a@example.com")
	assert.Contains(t, s, "Content-Disposition: attachment; filename=\"scan.pdf\"")
	assert.Contains(t, s, "Content-Transfer-Encoding: base64")
	assert.NotContains(t, s, "Prüfung", "non-ascii subject must be encoded")
}

func TestFTPSenderStoresThroughTransport(t *testing.T) {
	src := writeSource(t, "scan.pdf", "payload")

	var gotDir, gotName string
	transport := ftpFunc(func(ctx context.Context, target config.FTPTarget, dir, name string, r io.Reader) error {
		gotDir, gotName = dir, name
		return nil
	})

	req := Request{
		SourcePath: src,
		Filename:   "scan.pdf",
		Render:     identityRender,
		Dest: config.Export{
			Kind: config.KindFTP,
			FTP:  &config.FTPTarget{Host: "files.example.com", Dir: "incoming"},
		},
	}
	target, err := FTPSender{Transport: transport}.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ftp://files.example.com/incoming/scan.pdf", target)
	assert.Equal(t, "incoming", gotDir)
	assert.Equal(t, "scan.pdf", gotName)
}

type mailFunc func(ctx context.Context, msg Message) error

func (f mailFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

type ftpFunc func(ctx context.Context, target config.FTPTarget, dir, name string, r io.Reader) error

func (f ftpFunc) Store(ctx context.Context, target config.FTPTarget, dir, name string, r io.Reader) error {
	return f(ctx, target, dir, name, r)
}
