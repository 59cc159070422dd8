package feed_test

import (
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/polypaper/internal/application/feed"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadIntents(t *testing.T) {
	in := `# warm-up
{"after_ms":500,"instrument":"btc-15m","outcome":"Up","price":0.45,"size":10}

{"after_ms":-3,"instrument":"btc-15m","outcome":"no","no_order":true}
`
	got, err := feed.ReadIntents(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 500*time.Millisecond, got[0].After)
	assert.Equal(t, domain.OutcomeUp, got[0].Intent.Outcome)
	assert.InDelta(t, 0.45, got[0].Intent.Price, 1e-9)
	assert.InDelta(t, 10.0, got[0].Intent.Size, 1e-9)

	assert.Zero(t, got[1].After)
	assert.Equal(t, domain.OutcomeDown, got[1].Intent.Outcome)
	assert.True(t, got[1].Intent.NoOrder)
}

func TestReadIntents_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bad json", `{"instrument":`, "line 1"},
		{"bad outcome", `{"instrument":"btc-15m","outcome":"sideways"}`, "unknown outcome"},
		{"no instrument", "\n" + `{"outcome":"Up"}`, "line 2: missing instrument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := feed.ReadIntents(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
