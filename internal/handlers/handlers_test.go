package handlers

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/galleryd/galleryd/internal/config"
	"github.com/galleryd/galleryd/internal/gallery"
	"github.com/galleryd/galleryd/internal/metadata"
	"github.com/galleryd/galleryd/internal/storage"
	"github.com/galleryd/galleryd/internal/web"
)

type testEnv struct {
	router  chi.Router
	store   *metadata.MemoryStore
	handles storage.Handles
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := metadata.NewMemoryStore()
	images := storage.NewMemoryBackend(storage.ImagesURLPrefix, 0)
	thumbs := storage.NewMemoryBackend(storage.ThumbnailsURLPrefix, 0)
	handles := storage.Handles{Images: images, Thumbnails: thumbs}
	svc := gallery.NewService(store, handles, gallery.Options{ThumbnailWidth: 8, ThumbnailHeight: 8})

	rd := &Renderer{Settings: web.SettingsFromConfig(config.Default().Gallery)}
	pages := NewPageHandler(rd, svc)
	upload := NewUploadHandler(rd, svc, 1<<20)

	r := chi.NewRouter()
	r.NotFound(rd.NotFound)
	r.Get("/images", pages.ImageList)
	r.Get("/images/{id}", pages.ImageDetail)
	r.Get("/albums", pages.AlbumList)
	r.Get("/albums/{apk}", pages.AlbumDetail)
	r.Get("/albums/{apk}/images/{id}", pages.AlbumImageDetail)
	r.Get("/upload", upload.Form)
	r.Post("/upload", upload.Upload)
	r.Get("/media/images/*", NewMediaHandler(rd, images).Serve)
	r.Get("/media/thumbnails/*", NewMediaHandler(rd, thumbs).Serve)
	return &testEnv{router: r, store: store, handles: handles}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 20, 10))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// multipartRequest builds a POST /upload with the given files and fields.
func multipartRequest(t *testing.T, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile("data", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func flashFrom(t *testing.T, rec *httptest.ResponseRecorder) []web.Flash {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == flashCookie {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(c)
			return readFlashes(req)
		}
	}
	return nil
}

func TestImageListNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, name := range []string{"old.jpg", "new.jpg"} {
		env.store.CreateImage(ctx, &metadata.ImageRecord{Name: name, Title: strings.TrimSuffix(name, ".jpg")})
	}
	rec := env.get("/images")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Index(body, `alt="new"`) > strings.Index(body, `alt="old"`) {
		t.Error("images not newest first")
	}
}

func TestImageDetailPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	album := &metadata.AlbumRecord{Title: "Trip"}
	env.store.CreateAlbum(ctx, album)
	var ids []int64
	for i := 0; i < 3; i++ {
		img := &metadata.ImageRecord{Name: "x.jpg"}
		env.store.CreateImage(ctx, img)
		env.store.AddImageToAlbum(ctx, album.ID, img.ID)
		ids = append(ids, img.ID)
	}

	tests := []struct {
		name   string
		path   string
		status int
		want   string
	}{
		{"scoped middle", "/albums/1/images/2", http.StatusOK, `rel="next" href="/albums/1/images/3"`},
		{"unscoped lists albums", "/images/2", http.StatusOK, `href="/albums/1/images/2">Trip</a>`},
		{"missing image", "/images/99", http.StatusNotFound, "image does not exist"},
		{"missing album", "/albums/99/images/2", http.StatusNotFound, "album 99 does not exist"},
		{"bad id", "/images/abc", http.StatusBadRequest, "not valid"},
		{"unknown route", "/nowhere", http.StatusNotFound, "page does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(tt.path)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body missing %q", tt.want)
			}
		})
	}
}

func TestAlbumPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.CreateAlbum(ctx, &metadata.AlbumRecord{Title: "Second", Order: 2})
	env.store.CreateAlbum(ctx, &metadata.AlbumRecord{Title: "First", Order: 1})

	body := env.get("/albums").Body.String()
	if strings.Index(body, "First") > strings.Index(body, "Second") {
		t.Error("albums not in configured order")
	}
	rec := env.get("/albums/1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `name="apk" value="1"`) {
		t.Errorf("album page: %d", rec.Code)
	}
	if rec := env.get("/albums/7"); rec.Code != http.StatusNotFound {
		t.Errorf("missing album status = %d", rec.Code)
	}
}

func TestUploadSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	album := &metadata.AlbumRecord{Title: "Trip"}
	env.store.CreateAlbum(ctx, album)

	req := multipartRequest(t,
		map[string][]byte{"beach.png": pngData(t)},
		map[string]string{"apk": "1", "next": "/albums/1"},
	)
	rec := env.do(req)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "/albums/1" {
		t.Errorf("Location = %q", loc)
	}
	flashes := flashFrom(t, rec)
	if len(flashes) != 1 || flashes[0].Message != "Image beach added successfully" {
		t.Errorf("flashes = %+v", flashes)
	}
	images, _ := env.store.AlbumImages(ctx, album.ID)
	if len(images) != 1 || images[0].Thumbnail == "" {
		t.Fatalf("album images = %+v", images)
	}

	media := env.get("/media/images/" + images[0].Name)
	if media.Code != http.StatusOK || media.Header().Get("Content-Type") != "image/png" {
		t.Errorf("media: %d %q", media.Code, media.Header().Get("Content-Type"))
	}
	if thumb := env.get("/media/thumbnails/" + images[0].Thumbnail); thumb.Code != http.StatusOK {
		t.Errorf("thumbnail status = %d", thumb.Code)
	}
}

func TestUploadDefaultsToImageList(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(multipartRequest(t, map[string][]byte{"a.png": pngData(t)}, nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/images" {
		t.Errorf("status %d, Location %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestUploadInvalid(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no files without next re-renders", func(t *testing.T) {
		rec := env.do(multipartRequest(t, nil, map[string]string{"apk": ""}))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), msgFileRequired) {
			t.Error("form errors not shown")
		}
	})

	t.Run("no files with next redirects", func(t *testing.T) {
		rec := env.do(multipartRequest(t, nil, map[string]string{"next": "/albums/1"}))
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/albums/1" {
			t.Fatalf("status %d, Location %q", rec.Code, rec.Header().Get("Location"))
		}
		flashes := flashFrom(t, rec)
		if len(flashes) != 1 || flashes[0].Level != "error" {
			t.Errorf("flashes = %+v", flashes)
		}
	})

	t.Run("unknown album", func(t *testing.T) {
		rec := env.do(multipartRequest(t, map[string][]byte{"a.png": pngData(t)}, map[string]string{"apk": "42"}))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("external next ignored", func(t *testing.T) {
		rec := env.do(multipartRequest(t, nil, map[string]string{"next": "https://evil.example/"}))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("too large", func(t *testing.T) {
		big := bytes.Repeat([]byte("x"), 2<<20)
		rec := env.do(multipartRequest(t, map[string][]byte{"big.png": big}, nil))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestUploadForm(t *testing.T) {
	env := newTestEnv(t)
	env.store.CreateAlbum(context.Background(), &metadata.AlbumRecord{Title: "Trip"})
	rec := env.get("/upload?apk=1&next=" + url.QueryEscape("/albums/1"))
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, `<option value="1" selected>Trip</option>`) {
		t.Errorf("upload form: %d\n%s", rec.Code, body)
	}
}

func TestFlashIsConsumed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(multipartRequest(t, map[string][]byte{"a.png": pngData(t)}, nil))
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == flashCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no flash cookie")
	}
	req := httptest.NewRequest(http.MethodGet, "/images", nil)
	req.AddCookie(cookie)
	page := env.do(req)
	if !strings.Contains(page.Body.String(), "Image a added successfully") {
		t.Error("flash not rendered")
	}
	cleared := false
	for _, c := range page.Result().Cookies() {
		if c.Name == flashCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("flash cookie not cleared")
	}
}

func TestMediaFromLocalBackendSupportsRanges(t *testing.T) {
	dir := t.TempDir()
	local, err := storage.NewLocalBackend(dir, storage.ImagesURLPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	r.Get("/media/images/*", NewMediaHandler(&Renderer{}, local).Serve)

	req := httptest.NewRequest(http.MethodGet, "/media/images/a.txt", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got, _ := io.ReadAll(rec.Body); string(got) != "234" {
		t.Errorf("body = %q", got)
	}

	missing := httptest.NewRecorder()
	r.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/media/images/nope.txt", nil))
	if missing.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", missing.Code)
	}
}

func TestMediaHidesTempFilesAndDirectories(t *testing.T) {
	dir := t.TempDir()
	local, err := storage.NewLocalBackend(dir, storage.ImagesURLPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".tmp", "tmp-upload"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := local.Save(context.Background(), "2024/a.png", strings.NewReader("png")); err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	r.Get("/media/images/*", NewMediaHandler(&Renderer{}, local).Serve)

	tests := []struct {
		path string
		want int
	}{
		{"/media/images/.tmp/tmp-upload", http.StatusNotFound},
		{"/media/images/.tmp", http.StatusNotFound},
		{"/media/images/2024/.hidden.png", http.StatusNotFound},
		{"/media/images/2024", http.StatusNotFound},
		{"/media/images/2024/a.png", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := map[string]string{
		"":                  "/images",
		"/albums/1":         "/albums/1",
		"/albums/1?page=2":  "/albums/1?page=2",
		"//evil.example":    "/images",
		"https://evil.test": "/images",
		"relative":          "/images",
		`/\evil.example`:    "/images",
	}
	for in, want := range tests {
		if got := safeRedirect(in, "/images"); got != want {
			t.Errorf("safeRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}
