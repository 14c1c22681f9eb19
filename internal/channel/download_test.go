package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func base64PNG(t *testing.T, w, h int) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(testPNG(t, w, h))
}

func TestFetch_SniffsMimeType(t *testing.T) {
	data := testPNG(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	}))
	defer srv.Close()

	d := NewDownloader(DownloaderConfig{Logger: testLogger()})
	blob, err := d.Fetch(context.Background(), srv.URL+"/file")
	if err != nil {
		t.Fatal(err)
	}
	if blob.MimeType != "image/png" {
		t.Errorf("mime = %q", blob.MimeType)
	}
	if !bytes.Equal(blob.Data, data) {
		t.Error("content mismatch")
	}
}

func TestFetch_DataURL(t *testing.T) {
	d := NewDownloader(DownloaderConfig{Logger: testLogger()})
	blob, err := d.Fetch(context.Background(), "data:text/vcard;base64,QkVHSU46VkNBUkQ=")
	if err != nil {
		t.Fatal(err)
	}
	if string(blob.Data) != "BEGIN:VCARD" || blob.MimeType != "text/vcard" {
		t.Errorf("got %q %q", blob.Data, blob.MimeType)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewDownloader(DownloaderConfig{Logger: testLogger()})
	blob, err := d.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob.Data) != "ok" || calls.Load() != 2 {
		t.Errorf("data=%q calls=%d", blob.Data, calls.Load())
	}
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewDownloader(DownloaderConfig{Logger: testLogger()})
	if _, err := d.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestFetch_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer srv.Close()

	d := NewDownloader(DownloaderConfig{MaxBytes: 1024, Logger: testLogger()})
	if _, err := d.Fetch(context.Background(), srv.URL); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}
