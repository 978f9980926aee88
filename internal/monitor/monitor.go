// Package monitor drives the portal client on behalf of registered users and
// notifies them once their results are ready.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"labwatch/internal/components/assert"
	"labwatch/internal/components/telemetry"
	"labwatch/internal/scrapers/lablaudo"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	report_monitor_check         = "monitor.check"
	report_monitor_register      = "monitor.register"
	report_monitor_users_checked = "monitor.users-checked"
)

type Status string

const (
	StatusResultsReady   Status = "results_ready"
	StatusResultsPending Status = "results_pending"
	StatusLoginFailed    Status = "login_failed"
	// StatusDelivered means the document was sent and the user left monitoring.
	StatusDelivered Status = "delivered"
)

const (
	CaptionResultsReady = "Lab Results Ready!\n\nYour lab results are attached."
	TextResultsNoPdf    = "Lab Results Ready!\n\nYour results are available on the portal, but I couldn't download the PDF. Please check the portal directly."
	TextResultsOnPortal = "Lab Results Ready!\n\nYour results are available on the portal."
	TextLoginFailed     = "Login Failed\n\nI couldn't log into your account. Please check your credentials and register them again."
)

var (
	ErrUnknownUser        = errors.New("monitor: unknown user")
	ErrLoginFailed        = errors.New("monitor: portal login failed")
	ErrInvalidCredentials = errors.New("monitor: username and password are required")
)

type Credentials struct {
	Username string
	Password string
}

// Account is a user being monitored.
type Account struct {
	UserID string
	Credentials
}

// CredentialStore maps a user id to portal credentials.
//
// note: fault injection point
type CredentialStore interface {
	Add(ctx context.Context, userID string, creds Credentials) error
	Remove(ctx context.Context, userID string) error
	// Lookup returns false when the user is not registered.
	Lookup(ctx context.Context, userID string) (Credentials, bool, error)
	ListActive(ctx context.Context) ([]Account, error)
	UpdateStatus(ctx context.Context, userID string, status Status) error
}

// Notifier delivers messages to a user.
//
// note: fault injection point
type Notifier interface {
	SendText(ctx context.Context, userID, text string) error
	SendDocument(ctx context.Context, userID string, document lablaudo.Document, caption string) error
}

// Portal is the part of lablaudo.Client the monitor drives.
type Portal interface {
	Authenticate(ctx context.Context, username, password string) bool
	CheckResults(ctx context.Context) (bool, error)
	GetPdfLink(ctx context.Context) (string, error)
	DownloadPdf(ctx context.Context, link string) (*lablaudo.Document, error)
}

// PortalFactory creates a fresh portal session, sessions are never shared between users.
type PortalFactory func() (Portal, error)

// ClientFactory creates lablaudo clients with the given options.
func ClientFactory(opts lablaudo.ClientOptions, tel telemetry.API) PortalFactory {
	return func() (Portal, error) {
		client, err := lablaudo.NewClient(opts, tel)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Outcome is the result of checking a single user.
type Outcome struct {
	UserID    string
	Status    Status
	Link      string
	Filename  string
	Size      int
	Delivered bool
	Err       error
}

func (o *Outcome) fail(err error) {
	o.Err = errors.Join(o.Err, err)
}

type Monitor struct {
	store       CredentialStore
	notifier    Notifier
	portals     PortalFactory
	concurrency int
	tel         telemetry.API
	tracer      trace.Tracer
}

type Option func(m *Monitor)

// WithConcurrency sets how many users CheckAll checks at the same time.
func WithConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func WithTelemetry(tel telemetry.API) Option {
	return func(m *Monitor) {
		m.tel = tel
	}
}

func New(store CredentialStore, notifier Notifier, portals PortalFactory, opts ...Option) *Monitor {
	assert.NotNil(store, "credential store")
	assert.NotNil(notifier, "notifier")
	assert.NotNil(portals, "portal factory")

	m := &Monitor{
		store:       store,
		notifier:    notifier,
		portals:     portals,
		concurrency: 1,
		tel:         telemetry.SlogAPI{},
		tracer:      otel.Tracer("labwatch/monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.tel = telemetry.NewScopedAPI("monitor", m.tel)
	return m
}

// Register tests the credentials against the portal and only stores them if the
// login works.
func (m *Monitor) Register(ctx context.Context, userID string, creds Credentials) error {
	ctx, span := m.tracer.Start(ctx, "Register")
	defer span.End()

	if strings.TrimSpace(userID) == "" || creds.Username == "" || creds.Password == "" {
		return ErrInvalidCredentials
	}

	portal, err := m.portals()
	if err != nil {
		m.tel.ReportBroken(report_monitor_register, err)
		return fmt.Errorf("create portal client: %w", err)
	}
	if !portal.Authenticate(ctx, creds.Username, creds.Password) {
		return ErrLoginFailed
	}

	err = m.store.Add(ctx, userID, creds)
	if err != nil {
		m.tel.ReportBroken(report_monitor_register, err, userID)
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// Unregister removes a user from monitoring.
func (m *Monitor) Unregister(ctx context.Context, userID string) error {
	_, found, err := m.store.Lookup(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !found {
		return ErrUnknownUser
	}
	err = m.store.Remove(ctx, userID)
	if err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	return nil
}

// CheckUser runs a single check for one registered user.
func (m *Monitor) CheckUser(ctx context.Context, userID string) (Outcome, error) {
	creds, found, err := m.store.Lookup(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup user: %w", err)
	}
	if !found {
		return Outcome{}, ErrUnknownUser
	}
	return m.check(ctx, Account{UserID: userID, Credentials: creds}), nil
}

// CheckAll checks every active user, a failure for one user never stops the others.
// Outcomes are returned in the order the store listed the users.
func (m *Monitor) CheckAll(ctx context.Context) ([]Outcome, error) {
	ctx, span := m.tracer.Start(ctx, "CheckAll")
	defer span.End()

	accounts, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	outcomes := make([]Outcome, len(accounts))
	group := errgroup.Group{}
	group.SetLimit(m.concurrency)
	for i, account := range accounts {
		group.Go(func() error {
			outcomes[i] = m.check(ctx, account)
			return nil
		})
	}
	_ = group.Wait()

	m.tel.ReportCount(report_monitor_users_checked, int64(len(accounts)))
	telemetry.RecordPerfStats(ctx, m.tel)

	return outcomes, ctx.Err()
}

func (m *Monitor) updateStatus(ctx context.Context, out *Outcome) {
	err := m.store.UpdateStatus(ctx, out.UserID, out.Status)
	if err != nil {
		m.tel.ReportBroken(report_monitor_check, fmt.Errorf("update status: %w", err), out.UserID)
		out.fail(err)
	}
}

func (m *Monitor) sendText(ctx context.Context, out *Outcome, text string) {
	err := m.notifier.SendText(ctx, out.UserID, text)
	if err != nil {
		m.tel.ReportBroken(report_monitor_check, fmt.Errorf("send text: %w", err), out.UserID)
		out.fail(err)
	}
}

func (m *Monitor) check(ctx context.Context, account Account) Outcome {
	ctx, span := m.tracer.Start(ctx, "check", trace.WithAttributes(
		attribute.String("user_id", account.UserID),
	))
	defer span.End()

	out := Outcome{UserID: account.UserID}

	portal, err := m.portals()
	if err != nil {
		m.tel.ReportBroken(report_monitor_check, fmt.Errorf("create portal client: %w", err))
		out.fail(err)
		return out
	}

	if !portal.Authenticate(ctx, account.Username, account.Password) {
		m.tel.ReportWarning(report_monitor_check, "login failed", account.UserID)
		out.Status = StatusLoginFailed
		m.updateStatus(ctx, &out)
		m.sendText(ctx, &out, TextLoginFailed)
		return out
	}

	ready, err := portal.CheckResults(ctx)
	if err != nil {
		m.tel.ReportBroken(report_monitor_check, fmt.Errorf("check results: %w", err), account.UserID)
		out.fail(err)
		return out
	}
	if !ready {
		out.Status = StatusResultsPending
		m.updateStatus(ctx, &out)
		return out
	}

	out.Status = StatusResultsReady
	defer func() {
		if !out.Delivered {
			m.updateStatus(ctx, &out)
		}
	}()

	link, err := portal.GetPdfLink(ctx)
	if err != nil {
		m.tel.ReportBroken(report_monitor_check, fmt.Errorf("get pdf link: %w", err), account.UserID)
		out.fail(err)
		return out
	}
	if link == "" {
		m.sendText(ctx, &out, TextResultsOnPortal)
		return out
	}
	out.Link = link

	document, err := portal.DownloadPdf(ctx, link)
	if err != nil {
		m.tel.ReportBroken(report_monitor_check, fmt.Errorf("download pdf: %w", err), account.UserID)
		out.fail(err)
		return out
	}
	if document == nil {
		m.tel.ReportWarning(report_monitor_check, "pdf download failed", account.UserID)
		m.sendText(ctx, &out, TextResultsNoPdf)
		return out
	}
	out.Filename = document.Filename
	out.Size = len(document.Contents)

	err = m.notifier.SendDocument(ctx, account.UserID, *document, CaptionResultsReady)
	if err != nil {
		// the user stays registered so the next pass tries again
		m.tel.ReportBroken(report_monitor_check, fmt.Errorf("send document: %w", err), account.UserID)
		out.fail(err)
		return out
	}
	out.Delivered = true
	out.Status = StatusDelivered

	err = m.store.Remove(ctx, account.UserID)
	if err != nil {
		m.tel.ReportBroken(report_monitor_check, fmt.Errorf("remove delivered user: %w", err), account.UserID)
		out.fail(err)
	}
	return out
}
