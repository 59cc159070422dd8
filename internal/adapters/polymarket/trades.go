package polymarket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// FetchLastTrade obtiene el print más reciente de un token usando la Data API
// pública. ok=false si el token todavía no tiene trades.
func (c *Client) FetchLastTrade(ctx context.Context, tokenID string) (domain.Trade, bool, error) {
	u := fmt.Sprintf("%s/trades?asset=%s&limit=1&offset=0", c.dataBase, url.QueryEscape(tokenID))

	var resp []rawDataTrade
	if err := c.call(ctx, &c.trades, http.MethodGet, u, nil, &resp); err != nil {
		return domain.Trade{}, false, fmt.Errorf("data-api.FetchLastTrade: %w", err)
	}
	if len(resp) == 0 {
		return domain.Trade{}, false, nil
	}

	rt := resp[0]
	price, err := rt.Price.Float64()
	if err != nil || price <= 0 {
		return domain.Trade{}, false, nil
	}
	size, _ := rt.Size.Float64()

	asset := rt.Asset
	if asset == "" {
		asset = tokenID
	}
	return domain.Trade{
		TokenID:   asset,
		Side:      strings.ToUpper(rt.Side),
		Price:     price,
		Size:      max(size, 0),
		Timestamp: parseTradeTimestamp(rt.Timestamp.String()),
	}, true, nil
}
