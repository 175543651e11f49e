// Package mailbox abstracts the provider mailbox API: listing message ids,
// fetching header-only projections, and sending raw mail.
package mailbox

import (
	"context"
	"time"
)

// Page is one page of a message id listing.
type Page struct {
	IDs           []string
	NextPageToken string
}

// Headers is a metadata-only projection of one message.
type Headers struct {
	// Values maps canonical header names (as requested) to raw values.
	// Missing headers are absent from the map.
	Values map[string]string
	// InternalTime is the provider-internal receive timestamp.
	InternalTime time.Time
}

// Get returns the value for name, matched case-insensitively at fetch time.
func (h Headers) Get(name string) string {
	return h.Values[name]
}

// Client is the mailbox capability consumed by the scan engine and the
// unsubscribe executor. Credential refresh is handled behind this interface.
type Client interface {
	ListMessageIDs(ctx context.Context, query, pageToken string, maxResults int64) (Page, error)
	GetMessageHeaders(ctx context.Context, id string, headerNames []string) (Headers, error)
	SendRawMessage(ctx context.Context, raw []byte) error
}

// Provider resolves the mailbox client for one user.
type Provider interface {
	ClientFor(ctx context.Context, userID string) (Client, error)
}
