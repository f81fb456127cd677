package localfs

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"sharewear/internal/ports"
)

func TestPutGetRoundtrip(t *testing.T) {
	l := New(t.TempDir(), "http://localhost:8080")
	ctx := context.Background()

	payload := []byte("png bytes")
	out, err := l.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   "composited/job-1.png",
		ContentType: "image/png",
		Reader:      bytes.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if out.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", out.Size, len(payload))
	}

	rc, contentType, size, err := l.GetObject(ctx, out.ObjectKey)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer rc.Close()

	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, payload) {
		t.Error("GetObject returned different bytes")
	}
	if size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", size, len(payload))
	}
	if contentType != "image/png" {
		t.Errorf("content type = %q, want image/png", contentType)
	}
}

func TestGetSignedURL(t *testing.T) {
	l := New(t.TempDir(), "http://files.test/")
	ctx := context.Background()

	signed, err := l.GetSignedURL(ctx, "rendered/job-1/front_0deg.png", time.Hour)
	if err != nil {
		t.Fatalf("GetSignedURL: %v", err)
	}
	// The URL lands in composited_file_url and rendered_image_url, so it
	// must be non-empty and point at the streaming route.
	if signed.URL == "" {
		t.Fatal("GetSignedURL returned empty URL")
	}
	want := "http://files.test/designs/content/rendered/job-1/front_0deg.png"
	if signed.URL != want {
		t.Errorf("URL = %q, want %q", signed.URL, want)
	}
	if signed.ExpiresAt.Before(time.Now().Add(30 * time.Minute)) {
		t.Error("ExpiresAt should reflect the requested window")
	}

	if _, err := l.GetSignedURL(ctx, "", time.Hour); err == nil {
		t.Error("expected error for empty object key")
	}
}

func TestDeleteObject(t *testing.T) {
	l := New(t.TempDir(), "http://localhost:8080")
	ctx := context.Background()

	_, err := l.PutObject(ctx, ports.PutObjectInput{
		ObjectKey: "designs/d1.png",
		Reader:    strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := l.DeleteObject(ctx, "designs/d1.png"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, _, _, err := l.GetObject(ctx, "designs/d1.png"); err == nil {
		t.Error("expected error reading deleted object")
	}
}
