// Package vault keeps provider credentials encrypted at rest and refreshes
// expired access tokens through the provider's token endpoint.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

// refreshLead is how long before expiry a token source refreshes.
const refreshLead = 5 * time.Minute

// Store loads and persists the sealed token pair of a calendar.
type Store interface {
	GetByID(ctx context.Context, id string) (*model.Calendar, error)
	SaveToken(ctx context.Context, calendarID string, tok model.SealedToken) error
}

type Vault struct {
	cipher *Cipher
	oauth  *oauth2.Config
	store  Store
	logger *slog.Logger
}

// New returns a vault. oauth may be nil when no provider is configured;
// refresh then fails with a configuration error.
func New(c *Cipher, oauth *oauth2.Config, store Store, logger *slog.Logger) *Vault {
	return &Vault{cipher: c, oauth: oauth, store: store, logger: logger.With("component", "vault")}
}

func (v *Vault) Encrypt(plaintext string) (string, error) { return v.cipher.Encrypt(plaintext) }
func (v *Vault) Decrypt(ciphertext string) (string, error) { return v.cipher.Decrypt(ciphertext) }

// Configured reports whether an OAuth client is available for refresh.
func (v *Vault) Configured() bool {
	return v.oauth != nil && v.oauth.ClientID != ""
}

// Seal encrypts a token pair for storage.
func (v *Vault) Seal(tok *oauth2.Token) (model.SealedToken, error) {
	access, err := v.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return model.SealedToken{}, fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := v.cipher.Encrypt(tok.RefreshToken)
	if err != nil {
		return model.SealedToken{}, fmt.Errorf("seal refresh token: %w", err)
	}
	sealed := model.SealedToken{AccessToken: access, RefreshToken: refresh}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		sealed.Expiry = &exp
	}
	return sealed, nil
}

// Open decrypts a stored token pair.
func (v *Vault) Open(sealed model.SealedToken) (*oauth2.Token, error) {
	access, err := v.cipher.Decrypt(sealed.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	refresh, err := v.cipher.Decrypt(sealed.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if sealed.Expiry != nil {
		tok.Expiry = *sealed.Expiry
	}
	return tok, nil
}

func (v *Vault) persist(ctx context.Context, calendarID string, tok *oauth2.Token) error {
	sealed, err := v.Seal(tok)
	if err != nil {
		return err
	}
	if err := v.store.SaveToken(ctx, calendarID, sealed); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// RefreshAccessToken exchanges the stored refresh token for a new access
// token and persists the re-encrypted pair.
func (v *Vault) RefreshAccessToken(ctx context.Context, calendarID string) (*oauth2.Token, error) {
	if !v.Configured() {
		return nil, calerr.Configuration("provider OAuth client is not configured", nil)
	}

	cal, err := v.store.GetByID(ctx, calendarID)
	if err != nil {
		return nil, fmt.Errorf("load calendar: %w", err)
	}
	if cal == nil {
		return nil, calerr.CalendarNotFound(calendarID)
	}

	stored, err := v.Open(cal.External.Token)
	if err != nil {
		return nil, calerr.Authentication("stored credentials cannot be decrypted", err)
	}
	if stored.RefreshToken == "" {
		return nil, calerr.Authentication("no refresh token stored for calendar "+calendarID, nil)
	}

	fresh, err := v.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken}).Token()
	if err != nil {
		v.logger.Warn("token refresh failed", "calendar_id", calendarID, "error", err)
		return nil, calerr.Authentication("failed to refresh access token", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = stored.RefreshToken
	}

	if err := v.persist(ctx, calendarID, fresh); err != nil {
		return nil, err
	}
	v.logger.Info("access token refreshed", "calendar_id", calendarID, "expiry", fresh.Expiry)
	return fresh, nil
}

// TokenSource returns a source for the calendar's credentials that
// refreshes ahead of expiry and persists rotated tokens.
func (v *Vault) TokenSource(ctx context.Context, cal model.Calendar) (oauth2.TokenSource, error) {
	tok, err := v.Open(cal.External.Token)
	if err != nil {
		return nil, calerr.Authentication("stored credentials cannot be decrypted", err)
	}
	if !v.Configured() || tok.RefreshToken == "" {
		return oauth2.StaticTokenSource(tok), nil
	}

	refresher := v.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	return &persistingSource{
		source:     oauth2.ReuseTokenSourceWithExpiry(tok, refresher, refreshLead),
		vault:      v,
		ctx:        ctx,
		calendarID: cal.ID,
		last:       tok.AccessToken,
	}, nil
}

// persistingSource saves a token whenever the wrapped source returns a new
// access token. A failed refresh is an authentication error.
type persistingSource struct {
	mu         sync.Mutex
	source     oauth2.TokenSource
	vault      *Vault
	ctx        context.Context
	calendarID string
	last       string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.source.Token()
	if err != nil {
		return nil, calerr.Authentication("failed to refresh access token for calendar "+p.calendarID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.vault.persist(p.ctx, p.calendarID, tok); err != nil {
			return nil, err
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
