package lablaudo

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

var pdfMagic = []byte("%PDF")

func isPdf(contents []byte) bool {
	return bytes.HasPrefix(contents, pdfMagic)
}

// filenameFromDisposition returns the raw filename= parameter of a Content-Disposition
// header with surrounding quotes removed.
func filenameFromDisposition(header string) string {
	_, after, found := strings.Cut(header, "filename=")
	if !found {
		return ""
	}
	value, _, _ := strings.Cut(after, ";")
	return strings.Trim(strings.TrimSpace(value), `"'`)
}

// filenameFromUrl returns the last path segment of `rawUrl` if it looks like a file name.
func filenameFromUrl(rawUrl string) string {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return ""
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" || !strings.Contains(base, ".") {
		return ""
	}
	return base
}

func documentFilename(disposition, requestedUrl string) string {
	filename := filenameFromDisposition(disposition)
	if filename == "" {
		filename = filenameFromUrl(requestedUrl)
	}
	if filename == "" {
		filename = DefaultFilename
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		filename += ".pdf"
	}
	return filename
}

// documentFromResponse accepts the body of `res` only if it is a pdf.
func documentFromResponse(res *resty.Response, requestedUrl string) *Document {
	body := res.Body()
	if !isPdf(body) {
		return nil
	}
	return &Document{
		Contents: body,
		Filename: documentFilename(res.Header().Get("Content-Disposition"), requestedUrl),
	}
}

// embeddedDocument accepts the body of `res` only if it is a pdf, it is always named DefaultFilename.
func embeddedDocument(res *resty.Response) *Document {
	body := res.Body()
	if !isPdf(body) {
		return nil
	}
	return &Document{Contents: body, Filename: DefaultFilename}
}

func decodeBase64Pdf(value string) []byte {
	decoded, err := base64.StdEncoding.DecodeString(stripWhitespace(value))
	if err != nil || !isPdf(decoded) {
		return nil
	}
	return decoded
}

// embeddedStrategy tries to recover a pdf from an html page, a non-nil error means a
// network failure and aborts the whole download.
type embeddedStrategy struct {
	name    string
	recover func(c *Client, ctx context.Context, doc *goquery.Document) (*Document, error)
}

var embeddedStrategies = []embeddedStrategy{
	{name: "base64-object", recover: (*Client).recoverBase64Object},
	{name: "iframe", recover: (*Client).recoverIframe},
	{name: "pdf-anchor", recover: (*Client).recoverPdfAnchor},
}

func (c *Client) recoverBase64Object(_ context.Context, doc *goquery.Document) (*Document, error) {
	param := doc.Find(`object[type="application/pdf"]`).First().
		Find("param#base64-param").First()
	value := param.AttrOr("value", "")
	if value == "" {
		return nil, nil
	}
	contents := decodeBase64Pdf(value)
	if contents == nil {
		return nil, nil
	}
	return &Document{Contents: contents, Filename: DefaultFilename}, nil
}

func (c *Client) recoverIframe(ctx context.Context, doc *goquery.Document) (*Document, error) {
	src := doc.Find(`iframe[type="application/pdf"]`).First().AttrOr("src", "")
	if src == "" {
		return nil, nil
	}
	target := c.resolve(src)
	res, err := c.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("get iframe source: %w", err)
	}
	return embeddedDocument(res), nil
}

func (c *Client) recoverPdfAnchor(ctx context.Context, doc *goquery.Document) (*Document, error) {
	anchors := doc.Find("a[href]")
	for i := range anchors.Nodes {
		href := anchors.Eq(i).AttrOr("href", "")
		lower := strings.ToLower(href)
		if !strings.HasSuffix(lower, ".pdf") && !strings.Contains(lower, "pdf") {
			continue
		}
		target := c.resolve(href)
		res, err := c.get(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("get pdf anchor: %w", err)
		}
		if document := embeddedDocument(res); document != nil {
			return document, nil
		}
	}
	return nil, nil
}

func (c *Client) recoverEmbeddedPdf(ctx context.Context, body []byte) *Document {
	doc, err := parseDocument(body)
	if err != nil {
		c.tel.ReportBroken(report_client_download_pdf, fmt.Errorf("parse html document page: %w", err))
		return nil
	}
	for _, strategy := range embeddedStrategies {
		document, err := strategy.recover(c, ctx, doc)
		if err != nil {
			c.tel.ReportBroken(report_client_download_pdf, err, strategy.name)
			return nil
		}
		if document != nil {
			c.tel.ReportDebug("recovered embedded pdf", strategy.name, document.Filename)
			return document
		}
	}
	c.tel.ReportWarning(report_client_download_pdf, "no pdf found in html page")
	return nil
}

// DownloadPdf fetches the document behind `link` with the session cookies. It returns
// nil when the link does not lead to a pdf or on any network failure.
func (c *Client) DownloadPdf(ctx context.Context, link string) (*Document, error) {
	if !c.authenticated {
		return nil, ErrNotAuthenticated
	}

	ctx, span := c.tracer.Start(ctx, "DownloadPdf")
	defer span.End()

	res, err := c.get(ctx, link)
	if err != nil {
		c.tel.ReportBroken(report_client_download_pdf, fmt.Errorf("get document: %w", err))
		return nil, nil
	}

	contentType := strings.ToLower(res.Header().Get("Content-Type"))
	if strings.Contains(contentType, "html") && !strings.Contains(contentType, "pdf") {
		return c.recoverEmbeddedPdf(ctx, res.Body()), nil
	}

	// declared pdfs and unknown content types both go through the magic check
	document := documentFromResponse(res, link)
	if document == nil {
		c.tel.ReportWarning(report_client_download_pdf, "payload is not a pdf", contentType, link)
	}
	return document, nil
}
