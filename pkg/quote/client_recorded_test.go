package quote

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnaeon/go-vcr/recorder"
	"github.com/stretchr/testify/assert"
)

// This test uses go-vcr to record/replay a real chart fetch.
// It skips by default if cassette is absent and RECORD_CASSETTES != 1.
func TestClient_Series_Recorded(t *testing.T) {
	cassette := filepath.Join("testdata", "cassettes", "chart_aapl.yaml")
	if _, err := os.Stat(cassette); os.IsNotExist(err) {
		if os.Getenv("RECORD_CASSETTES") != "1" {
			t.Skipf("cassette missing; set RECORD_CASSETTES=1 to record: %s", cassette)
		}
		err := os.MkdirAll(filepath.Dir(cassette), 0o755)
		assert.NoError(t, err, "mkdir cassettes dir should succeed")
	}

	r, err := recorder.New(cassette)
	assert.NoError(t, err, "recorder.New should not error")
	assert.NotNil(t, r, "recorder should not be nil")
	defer func() { _ = r.Stop() }()

	httpClient := &http.Client{Transport: r}
	client := NewClient(WithHTTPClient(httpClient))
	q, err := client.Series(context.Background(), "AAPL", GranularityIntraday)
	assert.NoError(t, err, "Series should not error")
	assert.False(t, q.IsEmpty(), "series should not be empty")
	assert.Greater(t, q.LastPrice(), 0.0, "last price should be positive")
	assert.Greater(t, q.PreviousClose, 0.0, "previous close should be positive")
}
