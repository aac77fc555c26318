package web

import (
	"context"
	"fmt"
	"strconv"

	"github.com/a-h/templ"

	apierr "github.com/galleryd/galleryd/internal/errors"
	"github.com/galleryd/galleryd/internal/gallery"
	"github.com/galleryd/galleryd/internal/metadata"
)

// ImageURL is the page of an image, scoped to an album when albumID is set.
func ImageURL(imageID int64, albumID *int64) string {
	if albumID != nil {
		return fmt.Sprintf("/albums/%d/images/%d", *albumID, imageID)
	}
	return fmt.Sprintf("/images/%d", imageID)
}

// AlbumURL is the page of an album.
func AlbumURL(albumID int64) string {
	return "/albums/" + strconv.FormatInt(albumID, 10)
}

// thumbnailGrid writes linked thumbnails.
func thumbnailGrid(h *htmlWriter, images []gallery.Image, albumID *int64, currentID int64) {
	h.raw("<ul class=\"thumbnails\">")
	for _, img := range images {
		class := "thumbnail"
		if img.ID == currentID {
			class += " current"
		}
		h.raw("<li")
		h.attr("class", class)
		h.raw("><a")
		h.href(ImageURL(img.ID, albumID))
		h.raw("><img")
		h.attr("src", string(templ.URL(img.ThumbnailURL)))
		h.attr("alt", img.Label())
		h.raw(" loading=\"lazy\"></a></li>")
	}
	h.raw("</ul>")
}

// ImageList renders the newest-first image list.
func ImageList(p Page, images []gallery.Image) templ.Component {
	p.Title = "Images"
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		h.raw("<h1>Images</h1>")
		if len(images) == 0 {
			h.raw("<p class=\"empty\">No images yet.</p>")
			return
		}
		thumbnailGrid(h, images, nil, 0)
	}))
}

// ImageDetail renders an image page. Album scoped pages link the previous and
// next image and show the album strip; others list the albums the image is in.
func ImageDetail(p Page, page *gallery.ImagePage) templ.Component {
	img := page.Image
	p.Title = img.Label()
	var albumID *int64
	if page.Album != nil {
		albumID = &page.Album.ID
	}
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		h.raw("<article class=\"image-detail\">")
		if page.Album != nil {
			h.raw("<p class=\"breadcrumb\"><a")
			h.href(AlbumURL(page.Album.ID))
			h.raw(">")
			h.text(page.Album.Title)
			h.raw("</a></p>")
		}
		h.raw("<h1>")
		h.text(img.Label())
		h.raw("</h1><figure><a")
		h.href(img.URL)
		h.raw("><img class=\"full\"")
		h.attr("src", string(templ.URL(img.URL)))
		h.attr("alt", img.Label())
		h.raw("></a>")
		if img.DateTaken != nil {
			h.raw("<figcaption><time")
			h.attr("datetime", img.DateTaken.Format("2006-01-02T15:04:05Z07:00"))
			h.raw(">")
			h.text(img.DateTaken.Format("2 January 2006 15:04"))
			h.raw("</time></figcaption>")
		}
		h.raw("</figure>")

		if page.Album != nil {
			h.raw("<nav class=\"pager\">")
			if page.PreviousImage != nil {
				h.raw("<a class=\"previous\" rel=\"prev\"")
				h.href(ImageURL(page.PreviousImage.ID, albumID))
				h.raw(">&larr; Previous</a>")
			}
			if page.NextImage != nil {
				h.raw(" <a class=\"next\" rel=\"next\"")
				h.href(ImageURL(page.NextImage.ID, albumID))
				h.raw(">Next &rarr;</a>")
			}
			h.raw("</nav>")
			thumbnailGrid(h, page.AlbumImages, albumID, img.ID)
		} else if len(page.Albums) > 0 {
			h.raw("<section class=\"albums\"><h2>Albums</h2><ul>")
			for _, a := range page.Albums {
				h.raw("<li><a")
				h.href(ImageURL(img.ID, &a.ID))
				h.raw(">")
				h.text(a.Title)
				h.raw("</a></li>")
			}
			h.raw("</ul></section>")
		}
		h.raw("</article>")
	}))
}

// AlbumList renders the album list in the order given.
func AlbumList(p Page, albums []metadata.AlbumRecord) templ.Component {
	p.Title = "Albums"
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		h.raw("<h1>Albums</h1>")
		if len(albums) == 0 {
			h.raw("<p class=\"empty\">No albums yet.</p>")
			return
		}
		h.raw("<ul class=\"albums\">")
		for _, a := range albums {
			h.raw("<li><a")
			h.href(AlbumURL(a.ID))
			h.raw(">")
			h.text(a.Title)
			h.raw("</a></li>")
		}
		h.raw("</ul>")
	}))
}

// AlbumDetail renders an album with its images by date taken, and an upload
// form that drops new images into the album.
func AlbumDetail(p Page, page *gallery.AlbumPage) templ.Component {
	p.Title = page.Album.Title
	albumID := page.Album.ID
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		h.raw("<h1>")
		h.text(page.Album.Title)
		h.raw("</h1>")
		if len(page.Images) == 0 {
			h.raw("<p class=\"empty\">This album is empty.</p>")
		} else {
			thumbnailGrid(h, page.Images, &albumID, 0)
		}
		h.render(ctx, uploadFormBody(UploadForm{AlbumID: strconv.FormatInt(albumID, 10), Next: AlbumURL(albumID)}))
	}))
}

// UploadForm is the state of the upload form.
type UploadForm struct {
	// AlbumID preselects the target album.
	AlbumID string
	// Next is where to go after a successful upload.
	Next   string
	Albums []metadata.AlbumRecord
	Errors []string
}

func uploadFormBody(f UploadForm) templ.Component {
	return component(func(ctx context.Context, h *htmlWriter) {
		h.raw("<form class=\"upload\" method=\"post\" action=\"/upload\" enctype=\"multipart/form-data\">")
		if len(f.Errors) > 0 {
			h.raw("<ul class=\"errors\">")
			for _, e := range f.Errors {
				h.raw("<li>")
				h.text(e)
				h.raw("</li>")
			}
			h.raw("</ul>")
		}
		h.raw("<input type=\"file\" name=\"data\" accept=\"image/*\" multiple required>")
		if len(f.Albums) > 0 {
			h.raw("<select name=\"apk\"><option value=\"\">No album</option>")
			for _, a := range f.Albums {
				id := strconv.FormatInt(a.ID, 10)
				h.raw("<option")
				h.attr("value", id)
				if id == f.AlbumID {
					h.raw(" selected")
				}
				h.raw(">")
				h.text(a.Title)
				h.raw("</option>")
			}
			h.raw("</select>")
		} else if f.AlbumID != "" {
			h.raw("<input type=\"hidden\" name=\"apk\"")
			h.attr("value", f.AlbumID)
			h.raw(">")
		}
		if f.Next != "" {
			h.raw("<input type=\"hidden\" name=\"next\"")
			h.attr("value", f.Next)
			h.raw(">")
		}
		h.raw("<button type=\"submit\">Upload</button></form>")
	})
}

// UploadPage renders the standalone upload form.
func UploadPage(p Page, f UploadForm) templ.Component {
	p.Title = "Upload"
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		h.raw("<h1>Upload images</h1>")
		h.render(ctx, uploadFormBody(f))
	}))
}

// ErrorPage renders an error with its status.
func ErrorPage(p Page, e *apierr.APIError) templ.Component {
	p.Title = strconv.Itoa(e.HTTPStatus)
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		h.raw("<section class=\"error\"><h1>")
		h.text(strconv.Itoa(e.HTTPStatus))
		h.raw("</h1><p>")
		h.text(e.Message)
		h.raw("</p><p><a href=\"/\">Back to the gallery</a></p></section>")
	}))
}
