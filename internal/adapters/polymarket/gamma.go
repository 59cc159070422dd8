package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

const gammaEventBySlugPath = "/events/slug/"

// FetchSession resuelve condition_id y tokens Up/Down del evento con ese slug.
// Instrument queda vacío: lo asigna quien conoce la clave del instrumento.
func (c *Client) FetchSession(ctx context.Context, slug string) (domain.Session, error) {
	if slug == "" {
		return domain.Session{}, fmt.Errorf("gamma.FetchSession: empty slug")
	}

	u := c.gammaBase + gammaEventBySlugPath + url.PathEscape(slug)
	var resp gammaEvent
	if err := c.call(ctx, &c.session, http.MethodGet, u, nil, &resp); err != nil {
		return domain.Session{}, fmt.Errorf("gamma.FetchSession: %w", err)
	}
	if resp.Slug == "" {
		resp.Slug = slug
	}

	sess, err := mapGammaEvent(resp)
	if err != nil {
		return domain.Session{}, fmt.Errorf("gamma.FetchSession: %w", err)
	}

	slog.Debug("gamma: session resolved",
		"slug", slug,
		"market", sess.MarketID,
		"end", sess.EndDate,
	)
	return sess, nil
}
