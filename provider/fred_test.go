package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFredRequiresAPIKey(t *testing.T) {
	cfg := testConfig("http://example.invalid")
	codes := staticCodes{}

	_, err := NewFred(cfg, codes, testLogger())
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestFredGetData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fred/series/observations", r.URL.Path)
		require.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		require.Equal(t, "json", r.URL.Query().Get("file_type"))

		w.Write([]byte(`{"observations":[
			{"date":"2024-01-01","value":"5.33"},
			{"date":"2024-01-02","value":"."},
			{"date":"2024-01-03","value":"5.35"}
		]}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Providers.Fred.BaseURL = server.URL
	cfg.Providers.Fred.APIKey = "test-key"

	codes := staticCodes{"fred": {"DFF": "us_fed_funds"}}
	p, err := NewFred(cfg, codes, testLogger())
	require.NoError(t, err)

	obs, err := p.GetData(context.Background(), "fred", nil)
	require.NoError(t, err)

	// The "." observation is missing data, not a zero.
	require.Len(t, obs, 2)
	assert.Equal(t, "us_fed_funds", obs[0].Code)
	assert.Equal(t, 5.35, obs[0].Value)
	assert.Equal(t, 5.33, obs[1].Value)
}

func TestFredFailingSeriesFailsCall(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Providers.Fred.BaseURL = server.URL
	cfg.Providers.Fred.APIKey = "test-key"

	codes := staticCodes{"fred": {"DFF": "us_fed_funds"}}
	p, err := NewFred(cfg, codes, testLogger())
	require.NoError(t, err)

	_, err = p.GetData(context.Background(), "fred", nil)
	var retErr *RetrievalError
	require.ErrorAs(t, err, &retErr)
	assert.Equal(t, "fred", retErr.Source)
}
