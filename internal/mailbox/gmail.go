package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"
)

// GmailClient implements Client on top of the Gmail REST API for the
// authenticated user ("me").
type GmailClient struct {
	svc *gmailv1.Service
}

var _ Client = (*GmailClient)(nil)

func NewGmailClient(svc *gmailv1.Service) *GmailClient {
	return &GmailClient{svc: svc}
}

func (c *GmailClient) ListMessageIDs(ctx context.Context, query, pageToken string, maxResults int64) (Page, error) {
	call := c.svc.Users.Messages.List("me").
		Q(query).
		MaxResults(maxResults).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return Page{}, fmt.Errorf("list messages: %w", err)
	}

	page := Page{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		if m.Id != "" {
			page.IDs = append(page.IDs, m.Id)
		}
	}
	return page, nil
}

func (c *GmailClient) GetMessageHeaders(ctx context.Context, id string, headerNames []string) (Headers, error) {
	msg, err := c.svc.Users.Messages.Get("me", id).
		Format("metadata").
		MetadataHeaders(headerNames...).
		Context(ctx).
		Do()
	if err != nil {
		return Headers{}, fmt.Errorf("get message %s: %w", id, err)
	}

	out := Headers{Values: make(map[string]string, len(headerNames))}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			for _, want := range headerNames {
				if strings.EqualFold(h.Name, want) {
					out.Values[want] = h.Value
				}
			}
		}
	}
	if msg.InternalDate > 0 {
		out.InternalTime = time.UnixMilli(msg.InternalDate).UTC()
	}
	return out, nil
}

func (c *GmailClient) SendRawMessage(ctx context.Context, raw []byte) error {
	// The API wants the full RFC 2822 message base64url-encoded.
	msg := &gmailv1.Message{Raw: base64.RawURLEncoding.EncodeToString(raw)}
	if _, err := c.svc.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
