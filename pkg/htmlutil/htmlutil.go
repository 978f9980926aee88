package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// NormalizeText drops non-printable characters, trims the ends and collapses runs of
// whitespace into a single space.
func NormalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)
	return innerWhitespace.ReplaceAllString(s, " ")
}

type Anchor struct {
	Name string
	Href string
}

// GetAnchors lists the anchors in `sel` that carry an href attribute, in document order.
// The href is returned as written in the page, callers resolve it themselves.
func GetAnchors(sel *goquery.Selection) []Anchor {
	var anchors []Anchor
	for _, n := range sel.Nodes {
		href, ok := "", false
		for _, a := range n.Attr {
			if a.Key == "href" {
				href, ok = a.Val, true
				break
			}
		}
		if !ok {
			continue
		}
		anchors = append(anchors, Anchor{
			Name: NormalizeText(GetText(n)),
			Href: href,
		})
	}
	return anchors
}

// HasWebScheme reports whether `href` is an absolute http(s) url.
func HasWebScheme(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Origin returns the scheme://host part of a url, without a trailing slash.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// ResolveAgainstOrigin turns an href found on a portal page into an absolute url.
//
//   - absolute http(s) urls are returned unchanged
//   - paths starting with "/" are appended to the origin
//   - anything else is appended to the origin with a separating "/"
func ResolveAgainstOrigin(origin, href string) string {
	href = strings.TrimSpace(href)
	if HasWebScheme(href) {
		return href
	}
	origin = strings.TrimSuffix(origin, "/")
	if strings.HasPrefix(href, "/") {
		return origin + href
	}
	return origin + "/" + href
}
