// Package sanitize cleans the HTML fragments the matching webhook returns
// for listing images before they are rendered.
package sanitize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	allowedTags = map[string]bool{"img": true, "div": true, "span": true, "p": true, "br": true}

	allowedAttrs = map[string]bool{"src": true, "alt": true, "class": true, "style": true, "width": true, "height": true}

	// forbiddenTags are removed together with their content.
	forbiddenTags = "script, object, embed, iframe, form, input, style, noscript, template, textarea, select, button, svg, math"

	safeDataImages = []string{"data:image/png;", "data:image/jpeg;", "data:image/jpg;", "data:image/gif;", "data:image/webp;"}
)

// HTML returns fragment with only image and layout markup left. Disallowed
// elements are unwrapped so their text survives; forbidden elements are
// dropped with their content. Event handlers and unsafe URLs never survive.
func HTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + fragment + "</body>"))
	if err != nil {
		return ""
	}
	body := doc.Find("body")
	body.Find(forbiddenTags).Remove()

	// Children come after their parents in document order, so walking
	// backwards unwraps inner elements first.
	elems := body.Find("*")
	for i := elems.Length() - 1; i >= 0; i-- {
		s := elems.Eq(i)
		if !allowedTags[goquery.NodeName(s)] {
			s.ReplaceWithSelection(s.Contents())
			continue
		}
		cleanAttrs(s)
	}

	out, err := body.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func cleanAttrs(s *goquery.Selection) {
	var drop []string
	for _, a := range s.Nodes[0].Attr {
		key := strings.ToLower(a.Key)
		switch {
		case a.Namespace != "", !allowedAttrs[key]:
			drop = append(drop, a.Key)
		case key == "src" && !safeURL(a.Val):
			drop = append(drop, a.Key)
		case key == "style" && !safeStyle(a.Val):
			drop = append(drop, a.Key)
		}
	}
	for _, k := range drop {
		s.RemoveAttr(k)
	}
}

// safeURL accepts relative URLs, http(s) URLs and inline raster images.
func safeURL(v string) bool {
	u := strings.ToLower(strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, v))

	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "//") {
		return true
	}
	for _, p := range safeDataImages {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	colon := strings.IndexByte(u, ':')
	if colon < 0 {
		return true
	}
	// A colon after the first path, query or fragment delimiter is not a scheme.
	if i := strings.IndexAny(u, "/?#"); i >= 0 && i < colon {
		return true
	}
	return false
}

func safeStyle(v string) bool {
	l := strings.ToLower(v)
	return !strings.Contains(l, "expression(") && !strings.Contains(l, "javascript:") && !strings.Contains(l, "url(")
}
