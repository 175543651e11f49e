package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenSink is notified whenever the OAuth token source rotates a user's
// token, so the rotated credentials can be persisted. Credential persistence
// is the sink's responsibility, not the mailbox client's.
type TokenSink interface {
	TokenRefreshed(userID string, tok *oauth2.Token)
}

// Authenticator resolves per-user Gmail clients from OAuth material on disk:
// a shared client_secret.json plus one token file per user under credDir.
type Authenticator struct {
	credDir string
	sink    TokenSink
	log     zerolog.Logger
}

var _ Provider = (*Authenticator)(nil)

func NewAuthenticator(credDir string, sink TokenSink, log zerolog.Logger) *Authenticator {
	if sink == nil {
		sink = &FileTokenSink{Dir: credDir, Log: log}
	}
	return &Authenticator{
		credDir: credDir,
		sink:    sink,
		log:     log.With().Str("component", "mailbox").Logger(),
	}
}

// ClientFor builds a Gmail client for the user. The returned client refreshes
// tokens transparently and reports rotations to the configured TokenSink.
func (a *Authenticator) ClientFor(ctx context.Context, userID string) (Client, error) {
	credPath := filepath.Join(a.credDir, "client_secret.json")
	b, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credPath, err)
	}

	cfg, err := google.ConfigFromJSON(b,
		gmailv1.GmailReadonlyScope,
		gmailv1.GmailSendScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}

	tok, err := readToken(a.tokenPath(userID))
	if err != nil {
		return nil, fmt.Errorf("no Google account tokens found for user %s: %w", userID, err)
	}

	src := &notifyingTokenSource{
		base:   cfg.TokenSource(ctx, tok),
		userID: userID,
		sink:   a.sink,
		last:   tok.AccessToken,
	}
	svc, err := gmailv1.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGmailClient(svc), nil
}

func (a *Authenticator) tokenPath(userID string) string {
	return filepath.Join(a.credDir, "token-"+userID+".json")
}

// notifyingTokenSource forwards to the underlying source and tells the sink
// when the access token changed.
type notifyingTokenSource struct {
	base   oauth2.TokenSource
	userID string
	sink   TokenSink

	mu   sync.Mutex
	last string
}

func (n *notifyingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := n.base.Token()
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	rotated := tok.AccessToken != n.last
	n.last = tok.AccessToken
	n.mu.Unlock()
	if rotated && n.sink != nil {
		n.sink.TokenRefreshed(n.userID, tok)
	}
	return tok, nil
}

// FileTokenSink persists rotated tokens back to the per-user token file.
type FileTokenSink struct {
	Dir string
	Log zerolog.Logger
}

func (s *FileTokenSink) TokenRefreshed(userID string, tok *oauth2.Token) {
	path := filepath.Join(s.Dir, "token-"+userID+".json")
	if err := saveToken(path, tok); err != nil {
		s.Log.Error().Err(err).Str("user_id", userID).Msg("persist rotated token")
		return
	}
	s.Log.Debug().Str("user_id", userID).Msg("persisted rotated token")
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}
