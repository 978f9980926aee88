package lablaudo

import (
	"context"
	"fmt"
	"labwatch/pkg/htmlutil"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var pdfLinkPhrases = []string{"visualizar laudo", "baixar", "download"}

const pdfLinkHrefMarker = "/get_laudo"

// findPdfLink prefers anchors whose visible text names a download, the href marker is
// only checked when no anchor text matches.
func (c *Client) findPdfLink(doc *goquery.Document) string {
	anchors := htmlutil.GetAnchors(doc.Find("a[href]"))
	for _, a := range anchors {
		if containsAny(strings.ToLower(a.Name), pdfLinkPhrases) {
			return c.resolve(a.Href)
		}
	}
	for _, a := range anchors {
		if strings.Contains(a.Href, pdfLinkHrefMarker) {
			return c.resolve(a.Href)
		}
	}
	return ""
}

// GetPdfLink returns the absolute url of the results document, or "" when the results
// page has none.
func (c *Client) GetPdfLink(ctx context.Context) (string, error) {
	if !c.authenticated {
		return "", ErrNotAuthenticated
	}

	ctx, span := c.tracer.Start(ctx, "GetPdfLink")
	defer span.End()

	location := c.authenticatedLocation()
	res, err := c.get(ctx, location)
	if err != nil {
		c.tel.ReportBroken(report_client_get_pdf_link, fmt.Errorf("get results location: %w", err))
		return "", nil
	}
	doc, err := parseDocument(res.Body())
	if err != nil {
		c.tel.ReportBroken(report_client_get_pdf_link, fmt.Errorf("parse results location: %w", err))
		return "", nil
	}

	link := c.findPdfLink(doc)
	if link == "" {
		c.tel.ReportWarning(report_client_get_pdf_link, "no pdf link on results page", location)
	}
	return link, nil
}
