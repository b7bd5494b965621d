// Package googlehttp builds an authenticated HTTP client for the
// Google APIs this program uses.
//
// Authorization is the OAuth 2.0 installed-application flow: the
// client secret comes from a credentials.json downloaded from the
// Cloud console, and the granted token is cached in a file so the
// browser round trip happens once.  The cached token carries a
// refresh token; expiry is handled transparently by the oauth2
// transport.
package googlehttp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/HangSHI/SmartEventAdder/internal/gcal"
	"github.com/HangSHI/SmartEventAdder/internal/gmail"
	"github.com/HangSHI/SmartEventAdder/internal/vertex"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested during authorization.  All four are requested up
// front; a token granted for a subset would force re-authorization
// the first time a narrower command runs.
func scopes() []string {
	return []string{
		gmail.ReadonlyScope,
		gcal.EventsScope,
		gcal.SettingsScope,
		vertex.Scope,
	}
}

// New returns an HTTP client authorized for all required scopes,
// running the interactive authorization flow if no usable token is
// cached at tokenPath.
func New(ctx context.Context, credentialsPath, tokenPath string) (*http.Client, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, errors.Wrapf(err,
			"reading OAuth client credentials from %q", credentialsPath)
	}
	config, err := google.ConfigFromJSON(b, scopes()...)
	if err != nil {
		return nil, errors.Wrapf(err,
			"parsing OAuth client credentials from %q", credentialsPath)
	}

	tok, err := tokenFromFile(tokenPath)
	if err != nil {
		tok, err = tokenFromPrompt(ctx, config)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, err
		}
	}
	return config.Client(ctx, tok), nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, errors.Wrapf(err, "decoding cached token %q", path)
	}
	return tok, nil
}

// tokenFromPrompt runs the out-of-band console flow: print the
// authorization URL, read the pasted code, exchange it.
func tokenFromPrompt(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token",
		oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(os.Stderr,
		"Visit this URL to authorize the application, then paste the code here:\n%s\n> ", authURL)

	var code string
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		code = scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading authorization code")
	}
	if code == "" {
		return nil, errors.New("no authorization code entered")
	}

	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "exchanging authorization code for a token")
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "creating token directory for %q", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrapf(err, "creating token cache %q", path)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return errors.Wrapf(err, "writing token cache %q", path)
	}
	return nil
}
