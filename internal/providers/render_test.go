package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitRender(t *testing.T) {
	var gotKey, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/render" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"success":true,"response":{"id":"abc-123"}}`)
	}))
	defer srv.Close()

	client := NewShotstackClient("test-key", srv.URL)
	id, err := client.SubmitRender(context.Background(), map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("SubmitRender failed: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("render id = %q", id)
	}
	if gotKey != "test-key" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
}

func TestSubmitRenderRejectionCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"asset type 'caption' is not valid"}`)
	}))
	defer srv.Close()

	client := NewShotstackClient("test-key", srv.URL)
	_, err := client.SubmitRender(context.Background(), map[string]string{})
	if err == nil {
		t.Fatal("expected rejection error")
	}

	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected *SubmissionError, got %T: %v", err, err)
	}
	if subErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", subErr.StatusCode)
	}
	if subErr.Body == "" {
		t.Error("rejection body was dropped")
	}
}

func TestSubmitRenderMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"response":{}}`)
	}))
	defer srv.Close()

	client := NewShotstackClient("test-key", srv.URL)
	if _, err := client.SubmitRender(context.Background(), map[string]string{}); err == nil {
		t.Fatal("expected error for missing render id")
	}
}

func TestGetRenderStatusNormalization(t *testing.T) {
	tests := []struct {
		providerStatus string
		wantState      RenderState
	}{
		{"queued", RenderStateProcessing},
		{"fetching", RenderStateProcessing},
		{"rendering", RenderStateProcessing},
		{"saving", RenderStateProcessing},
		{"done", RenderStateDone},
		{"failed", RenderStateFailed},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"response":{"status":%q,"url":"https://cdn.test/out.mp4","error":""}}`, tt.providerStatus)
		}))

		client := NewShotstackClient("test-key", srv.URL)
		status, err := client.GetRenderStatus(context.Background(), "abc-123")
		srv.Close()

		if err != nil {
			t.Fatalf("status %q: %v", tt.providerStatus, err)
		}
		if status.State != tt.wantState {
			t.Errorf("status %q normalized to %q, want %q", tt.providerStatus, status.State, tt.wantState)
		}
	}
}

func TestGetRenderStatusFailedCarriesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render/abc-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"response":{"status":"failed","error":"source asset 404"}}`)
	}))
	defer srv.Close()

	client := NewShotstackClient("test-key", srv.URL)
	status, err := client.GetRenderStatus(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("GetRenderStatus failed: %v", err)
	}
	if status.State != RenderStateFailed || status.Error != "source asset 404" {
		t.Errorf("unexpected status: %+v", status)
	}
}
