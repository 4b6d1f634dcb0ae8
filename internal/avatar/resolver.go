package avatar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/DoyleJ11/statboard/internal/stats"
)

const (
	DefaultURLTemplate = "https://mc-heads.net/avatar/%s"
	maxTextureBytes    = 1 << 20
)

// HTTPResolver downloads an avatar image from a URL built from the entity id.
type HTTPResolver struct {
	template string
	client   *http.Client
	now      func() time.Time
}

// NewHTTPResolver builds a resolver for template, which must contain one %s
// for the url-escaped entity id.
func NewHTTPResolver(template string, timeout time.Duration) *HTTPResolver {
	if template == "" {
		template = DefaultURLTemplate
	}
	return &HTTPResolver{
		template: template,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

func (r *HTTPResolver) Lookup(ctx context.Context, e stats.Entity) (*Handle, error) {
	avatarURL := fmt.Sprintf(r.template, url.PathEscape(e.ID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, avatarURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building avatar request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download avatar: status %d", resp.StatusCode)
	}

	texture, err := io.ReadAll(io.LimitReader(resp.Body, maxTextureBytes))
	if err != nil {
		return nil, fmt.Errorf("reading avatar: %w", err)
	}

	return &Handle{
		EntityID:    e.ID,
		Owner:       e.Name,
		URL:         avatarURL,
		ContentType: resp.Header.Get("Content-Type"),
		Texture:     texture,
		FetchedAt:   r.now(),
	}, nil
}
