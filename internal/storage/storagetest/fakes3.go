// Package storagetest provides an in-process S3 endpoint for tests.
package storagetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/civicfix/internal/config"
)

const Bucket = "test-bucket"

// Object is what the fake recorded for one PUT.
type Object struct {
	Body        []byte
	ContentType string
}

// FakeS3 understands the handful of path-style S3 calls the adapter makes:
// PUT and GET objects, DELETE objects and HEAD the bucket. Objects are also
// served at the public URL, so uploaded URLs are reachable.
type FakeS3 struct {
	Server *httptest.Server

	mu      sync.Mutex
	objects map[string]Object
	puts    int
	// FailPutAfter makes every PUT after the first n return 403. Zero disables it.
	FailPutAfter int
}

// NewFakeS3 starts a fake endpoint that is shut down when the test ends.
func NewFakeS3(t *testing.T) *FakeS3 {
	t.Helper()
	f := &FakeS3{objects: make(map[string]Object)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// Config returns storage settings pointing at the fake.
func (f *FakeS3) Config() config.StorageConfig {
	return config.StorageConfig{
		Endpoint:        f.Server.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Bucket:          Bucket,
		Region:          "us-east-1",
		PublicURL:       f.Server.URL + "/" + Bucket,
		Timeout:         5 * time.Second,
	}
}

// Object returns the stored object for key.
func (f *FakeS3) Object(key string) (Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[key]
	return o, ok
}

// Keys returns every stored key.
func (f *FakeS3) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys
}

func (f *FakeS3) serve(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != Bucket {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `<Error><Code>NoSuchBucket</Code></Error>`)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodHead && key == "":
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPut && key != "":
		f.puts++
		if f.FailPutAfter > 0 && f.puts > f.FailPutAfter {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = Object{Body: body, ContentType: r.Header.Get("Content-Type")}
		w.Header().Set("ETag", `"fake"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet && key != "":
		o, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", o.ContentType)
		w.Write(o.Body)

	case r.Method == http.MethodDelete && key != "":
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
