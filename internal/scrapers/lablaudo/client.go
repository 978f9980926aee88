// client.go contains the portal session itself, the four portal operations live in their
// own files and share the helpers defined here.

package lablaudo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"labwatch/internal/components/assert"
	"labwatch/internal/components/telemetry"
	"labwatch/pkg/htmlutil"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	report_client_authenticate  = "client.authenticate"
	report_client_check_results = "client.check-results"
	report_client_get_pdf_link  = "client.get-pdf-link"
	report_client_download_pdf  = "client.download-pdf"
)

const (
	DefaultBaseUrl   = "https://lablaudo.com.br"
	DefaultLoginPath = "/acesso_paciente"
	DefaultTimeout   = time.Second * 30
	DefaultFilename  = "lab_results.pdf"
)

const maxRedirects = 10

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// ErrNotAuthenticated is returned by every operation that requires a session when
// Authenticate has not succeeded yet.
var ErrNotAuthenticated = errors.New("lablaudo: client is not authenticated")

type ClientOptions struct {
	// BaseUrl is the portal origin, defaults to DefaultBaseUrl.
	BaseUrl string
	// LoginPath is joined to BaseUrl to form the login url, defaults to DefaultLoginPath.
	LoginPath string
	// Timeout applies to every single request, defaults to DefaultTimeout.
	Timeout time.Duration
	// RequestsPerSecond limits the request rate of the client, 0 means unlimited.
	RequestsPerSecond float64
	// CloudflareBypass wraps the transport with a browser-like tls fingerprint.
	CloudflareBypass bool
	// DumpOutput receives full http transcripts when set.
	DumpOutput telemetry.MessageOutput
}

// Document is a downloaded results pdf.
type Document struct {
	Contents []byte
	Filename string
}

// Client is a single portal session, it holds cookies and the results location
// remembered on login. It is not safe for concurrent use.
type Client struct {
	http     *resty.Client
	baseUrl  *url.URL
	origin   string
	loginUrl string

	resultsLocation string
	authenticated   bool

	tel    telemetry.API
	tracer trace.Tracer
}

func NewClient(opts ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel, "telemetry")

	tel = telemetry.NewScopedAPI("lablaudo_scraper", tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	baseUrl, err := url.Parse(strings.TrimSuffix(opts.BaseUrl, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseUrl.Scheme == "" || baseUrl.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", opts.BaseUrl)
	}
	origin := htmlutil.Origin(baseUrl)

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	httpClient.SetHeader("user-agent", userAgent)
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))
	httpClient.SetTimeout(opts.Timeout)

	if opts.RequestsPerSecond > 0 {
		// max burst >= 1 just means that no requests will be dropped
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel, "labwatch/lablaudo", opts.DumpOutput)

	return &Client{
		http:     httpClient,
		baseUrl:  baseUrl,
		origin:   origin,
		loginUrl: htmlutil.ResolveAgainstOrigin(origin, opts.LoginPath),
		tel:      tel,
		tracer:   otel.Tracer("labwatch/lablaudo"),
	}, nil
}

// LoginUrl is the url of the login page.
func (c *Client) LoginUrl() string {
	return c.loginUrl
}

// ResultsLocation is the url remembered by the last successful Authenticate, it is
// empty before that.
func (c *Client) ResultsLocation() string {
	return c.resultsLocation
}

func (c *Client) Authenticated() bool {
	return c.authenticated
}

// authenticatedLocation is the first page visited when looking for results.
func (c *Client) authenticatedLocation() string {
	if c.resultsLocation != "" {
		return c.resultsLocation
	}
	return c.loginUrl
}

func (c *Client) resolve(href string) string {
	return htmlutil.ResolveAgainstOrigin(c.origin, href)
}

// get performs a GET with the session, any non-2xx response is treated as an error.
func (c *Client) get(ctx context.Context, target string) (*resty.Response, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(target)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("GET %s: unexpected status %s", target, res.Status())
	}
	return res, nil
}

func parseDocument(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// finalUrl is the url of the response after following redirects.
func finalUrl(res *resty.Response) string {
	if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
		return res.RawResponse.Request.URL.String()
	}
	return res.Request.URL
}
