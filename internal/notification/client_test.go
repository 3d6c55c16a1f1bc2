package notification

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedMessage struct {
	auth     string
	fields   map[string]string
	filename string
	body     []byte
}

func newGateway(t *testing.T, status int) (*capturedMessage, *httptest.Server) {
	t.Helper()
	captured := &capturedMessage{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.auth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		captured.fields = map[string]string{}
		for name, values := range r.MultipartForm.Value {
			captured.fields[name] = values[0]
		}
		if files := r.MultipartForm.File["attachment"]; len(files) > 0 {
			captured.filename = files[0].Filename
			f, err := files[0].Open()
			require.NoError(t, err)
			defer f.Close()
			captured.body, err = io.ReadAll(f)
			require.NoError(t, err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return captured, srv
}

func testConfig(url string) Config {
	return Config{
		APIURL:       url,
		GatewayToken: "gw-token",
		From:         "reports@example.com",
		TeamTag:      "analytics",
		ProductTag:   "exports",
	}
}

func TestSendAttachment(t *testing.T) {
	captured, srv := newGateway(t, http.StatusOK)
	c := NewClient(testConfig(srv.URL), zap.NewNop())

	artifact := []byte{0x50, 0x4b, 0x03, 0x04} // zip magic, like a pptx
	err := c.SendAttachment(context.Background(), "a@b.co", "Your Export Report",
		SuccessBody("POLITICAL_SNAPSHOT", "report.pptx"), artifact, "report.pptx")
	require.NoError(t, err)

	assert.Equal(t, "Bearer gw-token", captured.auth)
	assert.Equal(t, "reports@example.com", captured.fields["from"])
	assert.Equal(t, "a@b.co", captured.fields["to"])
	assert.Equal(t, "Your Export Report", captured.fields["subject"])
	assert.Equal(t, "analytics", captured.fields["team"])
	assert.Equal(t, "exports", captured.fields["product"])
	assert.Contains(t, captured.fields["html"], "POLITICAL_SNAPSHOT")
	assert.Equal(t, "report.pptx", captured.filename)
	assert.Equal(t, artifact, captured.body)
}

func TestSendPlainOmitsAttachment(t *testing.T) {
	captured, srv := newGateway(t, http.StatusAccepted)
	c := NewClient(testConfig(srv.URL), zap.NewNop())

	err := c.SendPlain(context.Background(), "a@b.co", "Report generation failed",
		FailureBody("POLITICAL_SNAPSHOT", "no view data was successfully fetched"))
	require.NoError(t, err)

	assert.Empty(t, captured.filename)
	assert.Contains(t, captured.fields["html"], "no view data was successfully fetched")
}

func TestSendGatewayErrorWrapped(t *testing.T) {
	_, srv := newGateway(t, http.StatusBadGateway)
	c := NewClient(testConfig(srv.URL), zap.NewNop())

	err := c.SendPlain(context.Background(), "a@b.co", "s", "<p>b</p>")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "502")
}

func TestFailureBodyEscapesErrorText(t *testing.T) {
	body := FailureBody("RETAIL_SNAPSHOT", `<script>alert("x")</script>`)
	assert.NotContains(t, body, "<script>")
	assert.True(t, strings.Contains(body, "RETAIL_SNAPSHOT"))
}
