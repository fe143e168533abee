package grab

import (
	"context"
	"fmt"
	"strings"

	"github.com/slipstream/acquire/internal/downloader"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/indexer/piratebay"
	"github.com/slipstream/acquire/internal/release"
)

// browserUserAgent is sent to sources that refuse the default agent for
// file downloads.
const browserUserAgent = "Mozilla/5.0 (Windows NT 6.3; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/41.0.2243.2 Safari/537.36"

// Prepare turns a ranked result into something the backend can take: it
// fetches the NZB or torrent bytes when the backend cannot fetch links
// itself, follows torznab redirects and asks session-bound providers for
// their payload. Peer-share and magnet results pass through unchanged.
func (s *Service) Prepare(ctx context.Context, r release.Result, client downloader.Client) (release.Result, error) {
	switch r.Kind {
	case release.KindPeerShare, release.KindMagnet:
		return r, nil

	case release.KindTorrent:
		return s.prepareTorrent(ctx, r, client)

	default:
		data, err := s.fetch(ctx, r.URL, nil)
		if err != nil {
			return r, err
		}
		if err := ValidateNZB(data); err != nil {
			return r, fmt.Errorf("%s: %w", r.Title, err)
		}
		return r.WithPayload(data), nil
	}
}

func (s *Service) prepareTorrent(ctx context.Context, r release.Result, client downloader.Client) (release.Result, error) {
	if fetcher, ok := s.payloadFetcher(r.Provider); ok {
		data, err := fetcher.FetchPayload(ctx, r)
		if err != nil {
			return r, err
		}
		return r.WithPayload(data), nil
	}

	if isTorznab(r.Provider) || s.isTorznabProvider(r.Provider) {
		return s.followRedirect(ctx, r, client)
	}

	if client.Type().AcceptsURL() || r.IsMagnet() {
		return r, nil
	}
	return s.fetchTorrent(ctx, r)
}

// followRedirect handles torznab download links, which often answer with a
// redirect to a magnet or to the real file location.
func (s *Service) followRedirect(ctx context.Context, r release.Result, client downloader.Client) (release.Result, error) {
	redirect, err := s.http.ResolveRedirect(ctx, &httpclient.Request{URL: r.URL})
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	switch {
	case redirect.IsMagnet():
		s.logger.Debug().Str("title", r.Title).Msg("Torznab link redirected to a magnet")
		return r.WithURL(redirect.Location).WithKind(release.KindMagnet), nil

	case redirect.Location != "":
		r = r.WithURL(redirect.Location)
		if client.Type().AcceptsURL() {
			return r, nil
		}
		return s.fetchTorrent(ctx, r)
	}

	if link, ok := ExtractMagnetURL(redirect.Body); ok {
		return r.WithURL(link).WithKind(release.KindMagnet), nil
	}
	if err := ValidateTorrent(redirect.Body); err != nil {
		return r, fmt.Errorf("%s: %w", r.Title, err)
	}
	return r.WithPayload(redirect.Body), nil
}

func (s *Service) fetchTorrent(ctx context.Context, r release.Result) (release.Result, error) {
	var headers map[string]string
	if r.Provider == piratebay.ProviderName {
		headers = map[string]string{"User-Agent": browserUserAgent}
	}
	data, err := s.fetch(ctx, r.URL, headers)
	if err != nil {
		return r, err
	}
	if link, ok := ExtractMagnetURL(data); ok {
		return r.WithURL(link).WithKind(release.KindMagnet), nil
	}
	if err := ValidateTorrent(data); err != nil {
		return r, fmt.Errorf("%s: %w", r.Title, err)
	}
	return r.WithPayload(data), nil
}

func (s *Service) fetch(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: result has no link", ErrInvalidRelease)
	}
	data, err := s.http.Get(ctx, &httpclient.Request{URL: rawURL, Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return data, nil
}

func (s *Service) payloadFetcher(provider string) (indexer.PayloadFetcher, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[provider]
	if !ok {
		return nil, false
	}
	f, ok := p.(indexer.PayloadFetcher)
	return f, ok
}

func (s *Service) isTorznabProvider(provider string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.torznab[provider]
	return ok
}

func isTorznab(provider string) bool {
	return strings.HasPrefix(provider, "Torznab") || strings.Contains(strings.ToLower(provider), "torznab")
}
