package campaign

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/postwave/postwave/internal/email"
)

var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// TrackingSender decorates a Sender with engagement tracking. HTML
// bodies get their links rewritten through the click redirect, a
// tracking pixel appended and an unsubscribe footer added. Plain text
// bodies only get the unsubscribe footer.
type TrackingSender struct {
	next    Sender
	baseURL string
}

// NewTrackingSender wraps next. baseURL is the public origin serving
// the tracking endpoints, without a trailing slash.
func NewTrackingSender(next Sender, baseURL string) *TrackingSender {
	return &TrackingSender{next: next, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Send rewrites the message body and delegates to the wrapped sender.
// The incoming message is not modified.
func (t *TrackingSender) Send(ctx context.Context, msg *Message) (string, error) {
	token := RecipientToken(msg.To)

	rewritten := *msg
	if email.IsHTML(msg.Body) {
		body := hrefPattern.ReplaceAllStringFunc(msg.Body, func(match string) string {
			target := hrefPattern.FindStringSubmatch(match)[1]
			return fmt.Sprintf(`href="%s/t/c/%s/%s?url=%s"`,
				t.baseURL, msg.CampaignID, token, url.QueryEscape(target))
		})

		pixel := fmt.Sprintf(`<img src="%s/t/o/%s/%s" width="1" height="1" alt="">`,
			t.baseURL, msg.CampaignID, token)
		footer := fmt.Sprintf(`<p><a href="%s/unsubscribe/%s">Unsubscribe</a></p>`,
			t.baseURL, token)

		if idx := strings.LastIndex(strings.ToLower(body), "</body>"); idx >= 0 {
			body = body[:idx] + pixel + footer + body[idx:]
		} else {
			body += pixel + footer
		}
		rewritten.Body = body
	} else {
		rewritten.Body = fmt.Sprintf("%s\n\nUnsubscribe: %s/unsubscribe/%s\n",
			msg.Body, t.baseURL, token)
	}

	return t.next.Send(ctx, &rewritten)
}

// RecipientToken encodes a recipient address for use in tracking and
// unsubscribe URLs.
func RecipientToken(email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(email))
}
