package lablaudo

import (
	"context"
	"fmt"
	"labwatch/pkg/htmlutil"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// buildLoginPayload fills in the login form, later steps overwrite earlier ones:
//  1. the common field names for both credentials
//  2. every hidden input (csrf tokens and the like)
//  3. the first unfilled text-like input and the first unfilled password input
func buildLoginPayload(form *goquery.Selection, username, password string) map[string]string {
	payload := map[string]string{
		"username":      username,
		"password":      password,
		"identificacao": username,
		"senha":         password,
	}

	inputs := form.Find("input")
	inputs.Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" || inputType(input) != "hidden" {
			return
		}
		payload[name] = input.AttrOr("value", "")
	})

	filledUsername := false
	filledPassword := false
	inputs.Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" || payload[name] != "" {
			return
		}
		switch inputType(input) {
		case "text", "email", "number":
			if !filledUsername {
				payload[name] = username
				filledUsername = true
			}
		case "password":
			if !filledPassword {
				payload[name] = password
				filledPassword = true
			}
		}
	})

	return payload
}

// inputType defaults to "text" like browsers do.
func inputType(input *goquery.Selection) string {
	t := strings.ToLower(strings.TrimSpace(input.AttrOr("type", "")))
	if t == "" {
		return "text"
	}
	return t
}

func (c *Client) resolveFormAction(action string) string {
	action = strings.TrimSpace(action)
	if htmlutil.HasWebScheme(action) {
		return action
	}
	if strings.HasPrefix(action, "/") {
		return c.resolve(action)
	}
	return c.loginUrl
}

// Authenticate logs into the portal, it returns false on wrong credentials and on any
// network or parsing failure. A successful call remembers the page the login landed on
// as the results location.
func (c *Client) Authenticate(ctx context.Context, username, password string) bool {
	ctx, span := c.tracer.Start(ctx, "Authenticate")
	defer span.End()

	c.authenticated = false
	c.resultsLocation = ""

	res, err := c.get(ctx, c.loginUrl)
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("get login page: %w", err))
		return false
	}
	doc, err := parseDocument(res.Body())
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("parse login page: %w", err))
		return false
	}

	form := doc.Find("form").First()
	if form.Length() == 0 {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("login page has no form"), c.loginUrl)
		return false
	}

	payload := buildLoginPayload(form, username, password)
	action := c.resolveFormAction(form.AttrOr("action", ""))

	res, err = c.http.R().
		SetContext(ctx).
		SetFormData(payload).
		Post(action)
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("submit login form: %w", err))
		return false
	}
	if !res.IsSuccess() {
		c.tel.ReportBroken(
			report_client_authenticate,
			fmt.Errorf("submit login form: unexpected status %s", res.Status()),
			action,
		)
		return false
	}

	body := strings.ToLower(res.String())
	matched, ok := firstMatch(loginSuccessRules, body)
	if !ok {
		c.tel.ReportDebug("login rejected", action)
		return false
	}

	c.resultsLocation = finalUrl(res)
	c.authenticated = true
	c.tel.ReportDebug("login accepted", matched, c.resultsLocation)
	return true
}
