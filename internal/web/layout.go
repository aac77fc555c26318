// Package web renders galleryd's HTML pages as templ components.
package web

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/galleryd/galleryd/internal/config"
)

// ThemeCSSPattern locates the stylesheet of a theme color.
const ThemeCSSPattern = "/static/gallery/css/themes/%s.css"

// PageSettings are the gallery settings every page is rendered with.
type PageSettings struct {
	GalleryTitle string
	LogoPath     string
	HDPIFactor   int
	ImageMargin  int
	FooterInfo   string
	FooterEmail  string
	ThemeCSSPath string
}

// SettingsFromConfig builds PageSettings from the gallery configuration.
func SettingsFromConfig(cfg config.GalleryConfig) PageSettings {
	return PageSettings{
		GalleryTitle: cfg.Title,
		LogoPath:     cfg.LogoPath,
		HDPIFactor:   cfg.HDPIFactor,
		ImageMargin:  cfg.ImageMargin,
		FooterInfo:   cfg.FooterInfo,
		FooterEmail:  cfg.FooterEmail,
		ThemeCSSPath: fmt.Sprintf(ThemeCSSPattern, cfg.ThemeColor),
	}
}

// Flash is a one-shot message shown at the top of the next page.
type Flash struct {
	// Level is "success" or "error".
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Page carries what the layout needs besides the page body.
type Page struct {
	Settings PageSettings
	// Title is the page specific title; the gallery title is appended.
	Title   string
	Flashes []Flash
}

func (p Page) fullTitle() string {
	if p.Title == "" || p.Title == p.Settings.GalleryTitle {
		return p.Settings.GalleryTitle
	}
	return p.Title + " | " + p.Settings.GalleryTitle
}

// htmlWriter writes markup, remembering the first error so call sites stay
// flat.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

// text writes s HTML-escaped.
func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

// attr writes name="value" with the value escaped.
func (h *htmlWriter) attr(name, value string) {
	h.raw(" " + name + `="` + templ.EscapeString(value) + `"`)
}

// href writes an href attribute with unsafe schemes stripped.
func (h *htmlWriter) href(url string) {
	h.attr("href", string(templ.URL(url)))
}

func (h *htmlWriter) render(ctx context.Context, c templ.Component) {
	if h.err == nil && c != nil {
		h.err = c.Render(ctx, h.w)
	}
}

// component adapts a body writer to a templ.Component.
func component(fn func(ctx context.Context, h *htmlWriter)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		fn(ctx, h)
		return h.err
	})
}

// Layout wraps body in the gallery chrome: head with theme stylesheet, header
// with logo and navigation, flash messages and footer.
func Layout(p Page, body templ.Component) templ.Component {
	return component(func(ctx context.Context, h *htmlWriter) {
		s := p.Settings
		h.raw("<!DOCTYPE html>\n<html lang=\"en\"><head><meta charset=\"utf-8\">")
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw("<title>")
		h.text(p.fullTitle())
		h.raw("</title><link rel=\"stylesheet\"")
		h.href(s.ThemeCSSPath)
		h.raw(">")
		h.raw("<style>:root{--image-margin:" + strconv.Itoa(s.ImageMargin) + "px;--hdpi-factor:" + strconv.Itoa(s.HDPIFactor) + "}</style>")
		h.raw("</head><body><header class=\"gallery-header\"><a class=\"brand\" href=\"/\">")
		if s.LogoPath != "" {
			h.raw("<img class=\"logo\"")
			h.attr("src", string(templ.URL(s.LogoPath)))
			h.attr("alt", s.GalleryTitle)
			h.raw(">")
		}
		h.text(s.GalleryTitle)
		h.raw("</a><nav><a href=\"/images\">Images</a> <a href=\"/albums\">Albums</a> <a href=\"/upload\">Upload</a></nav></header>")

		for _, f := range p.Flashes {
			h.raw("<div")
			h.attr("class", "flash flash-"+f.Level)
			h.raw(">")
			h.text(f.Message)
			h.raw("</div>")
		}

		h.raw("<main>")
		h.render(ctx, body)
		h.raw("</main><footer class=\"gallery-footer\">")
		if s.FooterInfo != "" {
			h.raw("<span class=\"footer-info\">")
			h.text(s.FooterInfo)
			h.raw("</span>")
		}
		if s.FooterEmail != "" {
			h.raw(" <a class=\"footer-email\"")
			h.href("mailto:" + s.FooterEmail)
			h.raw(">")
			h.text(s.FooterEmail)
			h.raw("</a>")
		}
		h.raw("</footer></body></html>\n")
	})
}
