package polymarket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSession_JSONStringFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/slug/btc-updown-15m-1700000000", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"slug": "btc-updown-15m-1700000000",
			"endDate": "2023-11-14T22:28:20Z",
			"markets": [{
				"conditionId": "0xcond",
				"outcomes": "[\"Up\", \"Down\"]",
				"clobTokenIds": "[\"111\", \"222\"]"
			}]
		}`))
	}))
	defer srv.Close()

	sess, err := newTestClient(srv).FetchSession(context.Background(), "btc-updown-15m-1700000000")
	require.NoError(t, err)
	assert.Equal(t, "0xcond", sess.MarketID)
	assert.Equal(t, "111", sess.UpTokenID)
	assert.Equal(t, "222", sess.DownTokenID)
	assert.True(t, time.Date(2023, 11, 14, 22, 28, 20, 0, time.UTC).Equal(sess.EndDate))
}

func TestFetchSession_ArrayFieldsReversedOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"slug":"s","markets":[{"conditionId":"0xc","outcomes":["Down","Up"],"clobTokenIds":["d","u"]}]}`))
	}))
	defer srv.Close()

	sess, err := newTestClient(srv).FetchSession(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "u", sess.UpTokenID)
	assert.Equal(t, "d", sess.DownTokenID)
}

func TestFetchSession_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events/slug/nomarkets":
			w.Write([]byte(`{"slug":"nomarkets","markets":[]}`))
		case "/events/slug/mismatch":
			w.Write([]byte(`{"slug":"mismatch","markets":[{"conditionId":"0xc","outcomes":["Up"],"clobTokenIds":["a","b"]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv)
	ctx := context.Background()

	for _, slug := range []string{"nomarkets", "mismatch", "missing", ""} {
		_, err := c.FetchSession(ctx, slug)
		assert.Error(t, err, slug)
	}
}

func TestFetchLastTrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trades", r.URL.Path)
		switch r.URL.Query().Get("asset") {
		case "tok":
			w.Write([]byte(`[{"asset":"tok","side":"SELL","price":0.47,"size":12.5,"timestamp":1700000000}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()
	c := newTestClient(srv)

	tr, ok, err := c.FetchLastTrade(context.Background(), "tok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, tr.IsSell())
	assert.InDelta(t, 0.47, tr.Price, 1e-9)
	assert.InDelta(t, 12.5, tr.Size, 1e-9)
	assert.Equal(t, time.Unix(1700000000, 0), tr.Timestamp)

	_, ok, err = c.FetchLastTrade(context.Background(), "quiet")
	require.NoError(t, err)
	assert.False(t, ok)
}
