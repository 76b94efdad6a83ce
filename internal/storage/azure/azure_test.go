package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/storage"
)

type storedBlob struct {
	content      []byte
	contentType  string
	metadata     map[string]string
	lastModified time.Time
}

// newTestStorage points an AzureStorage at a handler imitating enough of the
// Blob REST API for the store operations. Blobs are keyed by "<container>/<name>".
func newTestStorage(t *testing.T) (*AzureStorage, map[string]*storedBlob) {
	t.Helper()

	var mu sync.Mutex
	store := map[string]*storedBlob{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		key := strings.TrimPrefix(r.URL.Path, "/")
		q := r.URL.Query()

		if q.Get("restype") == "container" {
			switch {
			case r.Method == http.MethodPut:
				w.WriteHeader(http.StatusCreated)
			case r.Method == http.MethodGet && q.Get("comp") == "list":
				prefix := key + "/" + q.Get("prefix")
				var names []string
				for k := range store {
					if strings.HasPrefix(k, prefix) {
						names = append(names, k)
					}
				}
				sort.Strings(names)
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?><EnumerationResults><Blobs>`)
				for _, k := range names {
					fmt.Fprintf(w, `<Blob><Name>%s</Name><Properties><Content-Length>%d</Content-Length></Properties></Blob>`,
						strings.TrimPrefix(k, key+"/"), len(store[k].content))
				}
				fmt.Fprint(w, `</Blobs><NextMarker/></EnumerationResults>`)
			default:
				http.NotFound(w, r)
			}
			return
		}

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for k, v := range r.Header {
				lk := strings.ToLower(k)
				if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
					meta[strings.TrimPrefix(lk, "x-ms-meta-")] = v[0]
				}
			}
			store[key] = &storedBlob{
				content:      data,
				contentType:  r.Header.Get("x-ms-blob-content-type"),
				metadata:     meta,
				lastModified: time.Now().UTC(),
			}
			w.WriteHeader(http.StatusCreated)

		case http.MethodGet, http.MethodHead:
			b, ok := store[key]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
			w.Header().Set("Last-Modified", b.lastModified.Format(http.TimeFormat))
			if b.contentType != "" {
				w.Header().Set("Content-Type", b.contentType)
			}
			for k, v := range b.metadata {
				w.Header().Set("x-ms-meta-"+k, v)
			}
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write(b.content)
			}

		case http.MethodDelete:
			if _, ok := store[key]; !ok {
				http.NotFound(w, r)
				return
			}
			delete(store, key)
			w.WriteHeader(http.StatusAccepted)

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to create azblob client: %v", err)
	}

	return &AzureStorage{
		client:        client,
		containerName: "exports",
		accountName:   "account",
		accountKey:    "a2V5",
	}, store
}

func TestPutGetStat(t *testing.T) {
	s, store := newTestStorage(t)
	ctx := context.Background()
	data := []byte(`{"registers":[]}`)

	obj, err := s.Put(ctx, "configurations/abc/1.0.0.json", data, "application/json")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if obj.Size != int64(len(data)) {
		t.Fatalf("unexpected size: got %d want %d", obj.Size, len(data))
	}
	if _, ok := store["exports/configurations/abc/1.0.0.json"]; !ok {
		t.Fatalf("blob not stored under container path, have %v", store)
	}

	got, meta, err := s.Get(ctx, "configurations/abc/1.0.0.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("content mismatch: %q", got)
	}
	if meta.Checksum != storage.Checksum(data) {
		t.Fatalf("checksum mismatch: %s", meta.Checksum)
	}

	stat, err := s.Stat(ctx, "configurations/abc/1.0.0.json")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if stat.Checksum != obj.Checksum {
		t.Fatalf("Stat checksum = %q, want %q", stat.Checksum, obj.Checksum)
	}
	if stat.Size != int64(len(data)) {
		t.Fatalf("Stat size = %d", stat.Size)
	}
}

func TestMissingBlob(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	if _, _, err := s.Get(ctx, "nope.json"); !errors.Is(err, storage.ErrNotExist) {
		t.Fatalf("Get error = %v, want ErrNotExist", err)
	}
	if _, err := s.Stat(ctx, "nope.json"); !errors.Is(err, storage.ErrNotExist) {
		t.Fatalf("Stat error = %v, want ErrNotExist", err)
	}
	if err := s.Delete(ctx, "nope.json"); err != nil {
		t.Fatalf("Delete of missing blob error: %v", err)
	}
	if _, err := s.URL(ctx, "nope.json", time.Hour); !errors.Is(err, storage.ErrNotExist) {
		t.Fatalf("URL error = %v, want ErrNotExist", err)
	}
}

func TestListAndDelete(t *testing.T) {
	s, store := newTestStorage(t)
	ctx := context.Background()

	for _, key := range []string{"configurations/a/1.0.1.json", "configurations/a/1.0.0.json", "registers/x.json"} {
		if _, err := s.Put(ctx, key, []byte("{}"), ""); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, "configurations/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].Key != "configurations/a/1.0.0.json" || got[1].Key != "configurations/a/1.0.1.json" {
		t.Fatalf("List = %+v", got)
	}

	if err := s.Delete(ctx, "registers/x.json"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := store["exports/registers/x.json"]; ok {
		t.Fatal("Delete left the blob behind")
	}
}

func TestURL_CDNAndSAS(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "doc.json", []byte("{}"), ""); err != nil {
		t.Fatal(err)
	}

	s.cdnURL = "https://cdn.example"
	u, err := s.URL(ctx, "doc.json", time.Hour)
	if err != nil {
		t.Fatalf("URL failed: %v", err)
	}
	if u != "https://cdn.example/doc.json" {
		t.Fatalf("unexpected CDN URL: %s", u)
	}

	s.cdnURL = ""
	u, err = s.URL(ctx, "doc.json", time.Hour)
	if err != nil {
		t.Fatalf("URL failed: %v", err)
	}
	if !strings.HasPrefix(u, "https://account.blob.core.windows.net/exports/doc.json?") || !strings.Contains(u, "sig=") {
		t.Fatalf("unexpected SAS URL: %s", u)
	}
}

func TestEnsureBucket(t *testing.T) {
	s, _ := newTestStorage(t)
	if err := s.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureStorageConfig
	}{
		{"missing account name", config.AzureStorageConfig{AccountKey: "k", ContainerName: "c"}},
		{"missing account key", config.AzureStorageConfig{AccountName: "a", ContainerName: "c"}},
		{"missing container", config.AzureStorageConfig{AccountName: "a", AccountKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := New(&cfg); err == nil {
				t.Errorf("New() = nil error, want error for %s", tt.name)
			}
		})
	}
}
