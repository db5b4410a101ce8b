// Package fetcher resolves the quality specific playlist of a VOD and retrieves it.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	"vodkeep/internal/config"
	"vodkeep/internal/entity"
	"vodkeep/internal/errs"
	"vodkeep/internal/playlist"
	"vodkeep/pkg/urls"
)

const (
	headerClientID = "Client-ID"
	maxBodySize    = 16 << 20
)

// Fetcher talks to the playlist issuing service.
type Fetcher struct {
	log    *slog.Logger
	cfg    config.Twitch
	client *http.Client
}

// New returns a Fetcher. A nil client falls back to http.DefaultClient.
func New(log *slog.Logger, cfg *config.Config, client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &Fetcher{
		log:    log.With(slog.String("package", "fetcher")),
		cfg:    cfg.Twitch,
		client: client,
	}
}

type accessTokenResponse struct {
	Token     *string `json:"token"`
	Signature *string `json:"sig"`
}

type tokenClaims struct {
	Privileged bool `json:"privileged"`
	Chansub    *struct {
		RestrictedBitrates []string `json:"restricted_bitrates"`
	} `json:"chansub"`
}

// AccessToken requests the token and signature needed to list the VOD playlists.
func (f *Fetcher) AccessToken(ctx context.Context, videoID string) (entity.VodAuth, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return entity.VodAuth{}, fmt.Errorf("%w: empty video id", errs.ErrValidation)
	}

	body, err := f.get(ctx, fmt.Sprintf(f.cfg.AccessTokenURL, url.PathEscape(videoID)))
	if err != nil {
		return entity.VodAuth{}, fmt.Errorf("access token: %w", err)
	}

	var resp accessTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return entity.VodAuth{}, fmt.Errorf("%w: decode access token response: %w", errs.ErrValidation, err)
	}

	if resp.Token == nil || strings.TrimSpace(*resp.Token) == "" {
		return entity.VodAuth{}, fmt.Errorf("%w: access token is empty", errs.ErrValidation)
	}

	if resp.Signature == nil || strings.TrimSpace(*resp.Signature) == "" {
		return entity.VodAuth{}, fmt.Errorf("%w: signature is empty", errs.ErrValidation)
	}

	auth := entity.VodAuth{Token: *resp.Token, Signature: *resp.Signature}

	var claims tokenClaims
	if err := json.Unmarshal([]byte(auth.Token), &claims); err != nil {
		return entity.VodAuth{}, fmt.Errorf("%w: decode access token: %w", errs.ErrValidation, err)
	}

	auth.Privileged = claims.Privileged

	switch {
	case claims.Privileged:
		auth.SubOnly = true
	case claims.Chansub == nil || claims.Chansub.RestrictedBitrates == nil:
		return entity.VodAuth{}, fmt.Errorf("%w: token property chansub.restricted_bitrates is missing", errs.ErrValidation)
	default:
		auth.SubOnly = len(claims.Chansub.RestrictedBitrates) > 0
	}

	f.log.Debug("access token retrieved", slog.String("video_id", videoID),
		slog.Bool("privileged", auth.Privileged), slog.Bool("sub_only", auth.SubOnly))

	return auth, nil
}

// Candidates lists the per quality playlist URLs of a VOD in the order the service returns them.
func (f *Fetcher) Candidates(ctx context.Context, videoID string, auth entity.VodAuth) ([]string, error) {
	raw := fmt.Sprintf(f.cfg.PlaylistsURL,
		url.PathEscape(videoID), url.QueryEscape(auth.Signature), url.QueryEscape(auth.Token))

	body, err := f.get(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("playlists: %w", err)
	}

	candidates := parseCandidates(body, urls.Prefix(raw))
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no playlists listed for video %s", errs.ErrValidation, videoID)
	}

	return candidates, nil
}

// parseCandidates decodes a master playlist, falling back to the non comment lines of the body.
func parseCandidates(body []byte, prefix string) []string {
	var out []string

	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err == nil && listType == m3u8.MASTER {
		master, ok := pl.(*m3u8.MasterPlaylist)
		if ok {
			for _, v := range master.Variants {
				if v == nil || v.URI == "" {
					continue
				}

				out = append(out, urls.Resolve(prefix, v.URI))
			}
		}

		if len(out) > 0 {
			return out
		}
	}

	for line := range strings.SplitSeq(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		out = append(out, urls.Resolve(prefix, line))
	}

	return out
}

// SelectQuality returns the first candidate whose lower cased text contains the quality id.
func SelectQuality(candidates []string, quality entity.Quality) (string, error) {
	id := strings.ToLower(strings.TrimSpace(quality.ID))
	if id == "" {
		return "", fmt.Errorf("%w: empty quality id", errs.ErrValidation)
	}

	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), id) {
			return c, nil
		}
	}

	return "", fmt.Errorf("%w: no playlist for quality %q", errs.ErrValidation, quality.ID)
}

// PlaylistURL resolves the playlist URL for the requested quality.
func (f *Fetcher) PlaylistURL(ctx context.Context, videoID string, auth entity.VodAuth, quality entity.Quality) (string, error) {
	candidates, err := f.Candidates(ctx, videoID, auth)
	if err != nil {
		return "", err
	}

	for _, c := range candidates {
		f.log.Debug("playlist candidate", slog.String("video_id", videoID), slog.String("url", c))
	}

	return SelectQuality(candidates, quality)
}

// Playlist retrieves and parses the playlist at rawURL, placing segment files under tempDir.
func (f *Fetcher) Playlist(ctx context.Context, rawURL, tempDir string) (*playlist.Playlist, error) {
	body, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("playlist: %w", err)
	}

	text := string(body)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: the playlist is empty", errs.ErrValidation)
	}

	return playlist.Parse(text, urls.Prefix(rawURL), tempDir)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", errs.ErrValidation, err)
	}

	if f.cfg.ClientID != "" {
		req.Header.Set(headerClientID, f.cfg.ClientID)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: unexpected status %s from %s", errs.ErrNetwork, resp.Status, req.URL.Redacted())
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", errs.ErrNetwork, err)
	}

	return body, nil
}
