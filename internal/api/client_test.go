package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"erpchat/internal/protocol"
)

func TestBaseFromSocketURL(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080/socket":     "http://localhost:8080",
		"wss://erp.example.com/socket?x": "https://erp.example.com",
		"http://127.0.0.1:9000":          "http://127.0.0.1:9000",
	}
	for in, want := range cases {
		got, err := BaseFromSocketURL(in)
		if err != nil {
			t.Fatalf("BaseFromSocketURL(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("BaseFromSocketURL(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := BaseFromSocketURL("ftp://example.com"); err == nil {
		t.Fatalf("expected an error for ftp scheme")
	}
}

func TestFetchHistoryQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		cursor := int64(7)
		_ = json.NewEncoder(w).Encode(protocol.HistoryPage{
			Messages:   []protocol.Message{{ID: 7, Content: "a"}, {ID: 8, Content: "b"}},
			HasMore:    true,
			NextCursor: &cursor,
		})
	}))
	defer srv.Close()

	client := New(srv.URL, nil)
	page, err := client.FetchHistory(context.Background(), protocol.RoomKey{Kind: protocol.RoomGroup, TargetID: 3}, 9)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if gotPath != "/api/chats/3/messages" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotQuery != "beforeId=9&type=channel" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if !page.HasMore || page.NextCursor == nil || *page.NextCursor != 7 || len(page.Messages) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestFetchHistoryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad room"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).FetchHistory(context.Background(), protocol.RoomKey{Kind: protocol.RoomDirect, TargetID: 1}, 0)
	if err == nil || !strings.Contains(err.Error(), "bad room") {
		t.Fatalf("expected server error to surface, got %v", err)
	}
}

func TestUploadFile(t *testing.T) {
	var gotName, gotUser, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		buf := make([]byte, 64)
		n, _ := file.Read(buf)
		gotBody = string(buf[:n])
		gotName = header.Filename
		gotUser = r.FormValue("userId")
		_ = json.NewEncoder(w).Encode(protocol.UploadResponse{
			Success: true,
			File:    &protocol.File{ID: 12, Name: header.Filename, Size: int64(n)},
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "invoice.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatal(err)
	}

	client := New(srv.URL, nil)
	client.UserID = "5"
	ref, err := client.UploadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if ref.ID != 12 || gotName != "invoice.pdf" || gotUser != "5" || gotBody != "%PDF-1.4" {
		t.Fatalf("unexpected upload: ref=%+v name=%q user=%q body=%q", ref, gotName, gotUser, gotBody)
	}
}

func TestUploadFileRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocol.UploadResponse{Success: false, Error: "quota exceeded"})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(srv.URL, nil).UploadFile(context.Background(), path); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected rejection, got %v", err)
	}
	if _, err := New(srv.URL, nil).UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected an error for a missing local file")
	}
}
