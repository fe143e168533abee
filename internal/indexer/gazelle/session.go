package gazelle

import (
	"context"
	"net/url"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
)

// session carries the cookie jar and the keys download links need.
type session struct {
	client  *httpclient.Client
	authKey string
	passKey string
}

func (s *session) Valid() bool { return s.authKey != "" }

type indexResponse struct {
	AuthKey string `json:"authkey"`
	PassKey string `json:"passkey"`
}

func (p *Provider) session(ctx context.Context) (*session, error) {
	s, err := p.sessions.Get(ctx, p.cfg.Name, p.login)
	if err != nil {
		return nil, err
	}
	return s.(*session), nil
}

func (p *Provider) login(ctx context.Context) (indexer.Session, error) {
	s := &session{client: p.http.WithJar()}

	switch {
	case p.cfg.APIKey != "":
	case p.cfg.Username != "" && p.cfg.Password != "":
		form := url.Values{
			"username":   {p.cfg.Username},
			"password":   {p.cfg.Password},
			"keeplogged": {"1"},
		}
		if _, err := s.client.PostForm(ctx, p.cfg.URL+"/login.php", form, p.cfg.Lock); err != nil {
			return nil, indexer.NewAuthError(p.cfg.Name, err)
		}
	default:
		return nil, indexer.NewConfigError(p.cfg.Name, "neither api key nor username/password configured")
	}

	var idx indexResponse
	if err := p.call(ctx, s, url.Values{"action": {"index"}}, &idx); err != nil {
		return nil, indexer.NewAuthError(p.cfg.Name, err)
	}
	if idx.AuthKey == "" {
		return nil, indexer.NewAuthError(p.cfg.Name, nil)
	}
	s.authKey = idx.AuthKey
	s.passKey = idx.PassKey
	return s, nil
}
