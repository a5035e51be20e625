package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUploadStream(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotUpsert, gotContentType string
	var gotBody []byte
	var gotContentLength int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUpsert = r.Header.Get("x-upsert")
		gotContentType = r.Header.Get("Content-Type")
		gotContentLength = r.ContentLength
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(srv.URL, "service-key", "videos")
	payload := "streamed video bytes"

	err := s.UploadStream(context.Background(), "user/2026-08-24/job.mp4",
		strings.NewReader(payload), "video/mp4", int64(len(payload)))
	if err != nil {
		t.Fatalf("UploadStream failed: %v", err)
	}

	if gotMethod != "PUT" {
		t.Errorf("method = %q", gotMethod)
	}
	if gotPath != "/storage/v1/object/videos/user/2026-08-24/job.mp4" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer service-key" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotUpsert != "true" {
		t.Errorf("x-upsert = %q", gotUpsert)
	}
	if gotContentType != "video/mp4" {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotContentLength != int64(len(payload)) {
		t.Errorf("content length = %d, want %d", gotContentLength, len(payload))
	}
	if string(gotBody) != payload {
		t.Errorf("body = %q", gotBody)
	}
}

func TestUploadStreamFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"bucket not found"}`)
	}))
	defer srv.Close()

	s := New(srv.URL, "service-key", "videos")
	err := s.UploadStream(context.Background(), "a/b.mp4", strings.NewReader("x"), "video/mp4", 1)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should carry the status: %v", err)
	}
}

func TestUploadRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(srv.URL, "service-key", "videos")
	if err := s.Upload(context.Background(), "a/b.png", []byte("img"), "image/png"); err != nil {
		t.Fatalf("Upload failed after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestUploadDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	s := New(srv.URL, "service-key", "videos")
	if err := s.Upload(context.Background(), "a/b.mp4", []byte("big"), "video/mp4"); err == nil {
		t.Fatal("expected error for 413 response")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1; client errors are not retryable", attempts)
	}
}

func TestGetPublicURL(t *testing.T) {
	s := New("https://proj.supabase.co", "key", "videos")
	got := s.GetPublicURL("user/file.mp4")
	want := "https://proj.supabase.co/storage/v1/object/public/videos/user/file.mp4"
	if got != want {
		t.Errorf("public url = %q, want %q", got, want)
	}
}

func TestGetSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || !strings.HasPrefix(r.URL.Path, "/storage/v1/object/sign/videos/") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"signedURL":"/storage/v1/object/sign/videos/a.mp4?token=xyz"}`)
	}))
	defer srv.Close()

	s := New(srv.URL, "service-key", "videos")
	signed, err := s.GetSignedURL(context.Background(), "a.mp4", 3600)
	if err != nil {
		t.Fatalf("GetSignedURL failed: %v", err)
	}
	if !strings.HasSuffix(signed, "token=xyz") {
		t.Errorf("signed url = %q", signed)
	}
}

func TestRenderPath(t *testing.T) {
	userID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	at := time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC)

	got := RenderPath(userID, jobID, at)
	want := "11111111-1111-1111-1111-111111111111/2026-08-24/22222222-2222-2222-2222-222222222222.mp4"
	if got != want {
		t.Errorf("RenderPath = %q, want %q", got, want)
	}
}
