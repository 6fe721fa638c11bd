package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"os"
	"strconv"
	"time"

	"github.com/jordan-wright/email"

	"github.com/david-crosby/macmocker/internal/result"
)

// Notify dispatches the run to every configured sink. Each sink is
// best-effort and independent: a sink failure is logged and the next sink
// still runs. Notification failures never change the run's outcome.
func (r *Reporter) Notify(ctx context.Context, rr *result.RunResult) {
	if r.opts.WebhookURL != "" {
		if err := r.sendWebhook(ctx, rr); err != nil {
			r.logger.Error("webhook notification failed", "error", err)
		} else {
			r.logger.Info("webhook notification sent", "url", r.opts.WebhookURL)
		}
	}
	if r.opts.APIURL != "" {
		if err := r.sendAPI(ctx, rr); err != nil {
			r.logger.Error("api notification failed", "error", err)
		} else {
			r.logger.Info("api notification sent", "url", r.opts.APIURL)
		}
	}
	if r.opts.Email != nil {
		if err := r.sendEmail(rr); err != nil {
			r.logger.Error("email notification failed", "error", err)
		} else {
			r.logger.Info("email notification sent", "to", r.opts.Email.To)
		}
	}
}

// messageCard is the legacy Teams webhook payload. Teams renders facts as a
// two-column table, which is enough for a run summary.
type messageCard struct {
	Type       string        `json:"@type"`
	Context    string        `json:"@context"`
	ThemeColor string        `json:"themeColor"`
	Summary    string        `json:"summary"`
	Title      string        `json:"title"`
	Sections   []cardSection `json:"sections"`
}

type cardSection struct {
	Facts []cardFact `json:"facts"`
	Text  string     `json:"text,omitempty"`
}

type cardFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (r *Reporter) sendWebhook(ctx context.Context, rr *result.RunResult) error {
	summary := rr.Summary()
	color := "00FF00"
	if !summary.Clean() {
		color = "FF0000"
	}
	title := fmt.Sprintf("Verification run %q passed", rr.SuiteName)
	if !summary.Clean() {
		title = fmt.Sprintf("Verification run %q FAILED", rr.SuiteName)
	}

	section := cardSection{
		Facts: []cardFact{
			{Name: "Passed", Value: fmt.Sprintf("%d/%d", summary.Passed, summary.Total)},
			{Name: "Failed", Value: strconv.Itoa(summary.Failed)},
			{Name: "Errors", Value: strconv.Itoa(summary.Errors)},
			{Name: "Timed out", Value: strconv.Itoa(summary.TimedOut)},
			{Name: "Skipped", Value: strconv.Itoa(summary.Skipped)},
			{Name: "Pass rate", Value: fmt.Sprintf("%.1f%%", summary.PassRate)},
			{Name: "Duration", Value: fmt.Sprintf("%.1fs", summary.DurationSeconds)},
		},
	}
	if rr.Aborted {
		section.Text = "Run aborted before all tests were attempted."
	}

	card := messageCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Summary:    title,
		Title:      title,
		Sections:   []cardSection{section},
	}
	return r.postJSON(ctx, r.opts.WebhookURL, card, "")
}

// sendAPI posts the full structured report to the results API, authenticated
// by a bearer token read from the configured environment variable.
func (r *Reporter) sendAPI(ctx context.Context, rr *result.RunResult) error {
	var token string
	if r.opts.APITokenEnv != "" {
		token = os.Getenv(r.opts.APITokenEnv)
		if token == "" {
			return fmt.Errorf("api token environment variable %s is empty", r.opts.APITokenEnv)
		}
	}
	doc := Document{Summary: rr.Summary(), Run: rr}
	return r.postJSON(ctx, r.opts.APIURL, doc, token)
}

func (r *Reporter) postJSON(ctx context.Context, url string, payload any, bearer string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post to %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func (r *Reporter) sendEmail(rr *result.RunResult) error {
	cfg := r.opts.Email
	summary := rr.Summary()

	em := email.NewEmail()
	em.From = cfg.From
	em.To = cfg.To
	status := "PASSED"
	if !summary.Clean() {
		status = "FAILED"
	}
	em.Subject = fmt.Sprintf("[%s] Verification run %s (%d/%d passed)", rr.SuiteName, status, summary.Passed, summary.Total)
	em.Text = []byte(Render(rr))

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var auth smtp.Auth
	if cfg.Username != "" {
		password := os.Getenv(cfg.PasswordEnv)
		if password == "" {
			return fmt.Errorf("email password environment variable %s is empty", cfg.PasswordEnv)
		}
		auth = smtp.PlainAuth("", cfg.Username, password, cfg.Host)
	}
	return em.SendWithTLS(addr, auth, &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12})
}

// NotifyTimeout bounds the whole notification phase. Sinks share one
// deadline so a hung webhook cannot stall report delivery indefinitely.
const NotifyTimeout = 45 * time.Second
