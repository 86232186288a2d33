// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package imapstore backs the storage contracts with an IMAP4rev1
// server via go-imap. One store instance wraps one authenticated
// connection; colour labels ride on $cl_<n> keywords since IMAP has no
// native label concept.
package imapstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/conn"
	"github.com/bcem/mailgate/internal/storage"
)

// Dialer opens IMAP sessions for accounts. Safe for concurrent use; the
// rate limiter spans all sessions it opens so a burst of fan-out
// connections cannot flood one backend.
type Dialer struct {
	limiter            *rate.Limiter
	insecureSkipVerify bool
}

// NewDialer creates a dialer pacing commands at opsPerSecond across all
// its sessions. opsPerSecond <= 0 disables pacing.
func NewDialer(opsPerSecond float64) *Dialer {
	limit := rate.Inf
	if opsPerSecond > 0 {
		limit = rate.Limit(opsPerSecond)
	}
	return &Dialer{limiter: rate.NewLimiter(limit, 10)}
}

// Open implements conn.Dialer.
func (d *Dialer) Open(ctx context.Context, acct *account.Account) (*conn.Session, error) {
	addr := net.JoinHostPort(acct.Host, strconv.Itoa(acct.Port))
	options := &imapclient.Options{}
	if acct.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         acct.Host,
			InsecureSkipVerify: d.insecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	if acct.UseTLS {
		client, err = imapclient.DialTLS(addr, options)
	} else {
		client, err = imapclient.DialStartTLS(addr, options)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("dial imap %s: %w", addr, err))
	}

	if err := d.authenticate(ctx, client, acct); err != nil {
		_ = client.Close()
		return nil, err
	}

	st := &store{
		client:  client,
		limiter: d.limiter,
		account: acct,
		delim:   '/',
	}
	var warnings []error

	// The hierarchy delimiter comes from the root LIST reply; servers
	// without one get the conventional slash.
	if entries, err := client.List("", "", nil).Collect(); err == nil && len(entries) > 0 && entries[0].Delim != 0 {
		st.delim = entries[0].Delim
	}

	if !client.Caps().Has(imap.CapMove) {
		warnings = append(warnings, fmt.Errorf("server %s lacks MOVE, transfers fall back to copy and delete", addr))
	}

	slog.Debug("imap session opened",
		"address", addr,
		"account", acct.ID,
		"user", acct.Username,
		"oauth", acct.OAuthTokenURL != "",
	)

	return &conn.Session{
		Account:  acct,
		Messages: st,
		Folders:  st,
		Caps:     storage.Capabilities{BatchFlags: st},
		Warnings: warnings,
		Closer: func() error {
			if err := client.Logout().Wait(); err != nil {
				slog.Debug("imap logout failed", "address", addr, "error", err)
			}
			return client.Close()
		},
	}, nil
}

func (d *Dialer) authenticate(ctx context.Context, client *imapclient.Client, acct *account.Account) error {
	if acct.OAuthTokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     acct.OAuthClientID,
			ClientSecret: acct.OAuthClientSecret,
			TokenURL:     acct.OAuthTokenURL,
		}
		tok, err := cc.Token(ctx)
		if err != nil {
			return classify(fmt.Errorf("oauth token for account %d: %w", acct.ID, err))
		}
		saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: acct.Username,
			Token:    tok.AccessToken,
			Host:     acct.Host,
			Port:     acct.Port,
		})
		if err := client.Authenticate(saslClient); err != nil {
			return classify(fmt.Errorf("oauthbearer auth for %s: %w", acct.Username, err))
		}
		return nil
	}
	if err := client.Login(acct.Username, acct.Password).Wait(); err != nil {
		return classify(fmt.Errorf("imap login for %s: %w", acct.Username, err))
	}
	return nil
}
