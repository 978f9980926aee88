package lablaudo

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var resultsLinkMarkers = []string{"resultado", "exame", "laudo"}

// isStaleResultsPage reports whether the page fetched from the authenticated location
// cannot be trusted to be the results listing.
func (c *Client) isStaleResultsPage(body []byte) bool {
	return c.resultsLocation == "" || strings.Contains(strings.ToLower(string(body)), "entrar")
}

// findResultsLink returns the first anchor on the page that looks like it leads to the
// results listing, resolved against the portal origin.
func (c *Client) findResultsLink(doc *goquery.Document) string {
	link := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		if href == "" || !containsAny(strings.ToLower(href), resultsLinkMarkers) {
			return true
		}
		link = c.resolve(href)
		return false
	})
	return link
}

// resolveResultsPage moves from the authenticated location to the final results page,
// following at most one discovered link when the first page is stale.
func (c *Client) resolveResultsPage(ctx context.Context) (*goquery.Document, error) {
	location := c.authenticatedLocation()
	res, err := c.get(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("get authenticated location: %w", err)
	}
	doc, err := parseDocument(res.Body())
	if err != nil {
		return nil, fmt.Errorf("parse authenticated location: %w", err)
	}
	if !c.isStaleResultsPage(res.Body()) {
		return doc, nil
	}

	link := c.findResultsLink(doc)
	if link == "" {
		c.tel.ReportDebug("stale results page without results link", location)
		return doc, nil
	}

	res, err = c.get(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("get discovered results page: %w", err)
	}
	doc, err = parseDocument(res.Body())
	if err != nil {
		return nil, fmt.Errorf("parse discovered results page: %w", err)
	}
	return doc, nil
}

// CheckResults reports whether every result entry on the results page is marked
// as ready. A page without result entries is never ready.
func (c *Client) CheckResults(ctx context.Context) (bool, error) {
	if !c.authenticated {
		return false, ErrNotAuthenticated
	}

	ctx, span := c.tracer.Start(ctx, "CheckResults")
	defer span.End()

	doc, err := c.resolveResultsPage(ctx)
	if err != nil {
		c.tel.ReportBroken(report_client_check_results, err)
		return false, nil
	}

	rows := qualifyingRows(doc)
	if len(rows) == 0 {
		c.tel.ReportDebug("no result rows found")
		return false, nil
	}
	for i, row := range rows {
		if !isRowGreen(row) {
			c.tel.ReportDebug("result row not ready", i, len(rows))
			return false, nil
		}
	}
	return true, nil
}
