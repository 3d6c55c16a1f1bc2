package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/assembly"
)

// Renderer serializes a presentation manifest into presentation bytes.
// The default implementation delegates to the external presentation
// writer over HTTP; the JSON renderer exists for local debugging.
type Renderer interface {
	Render(ctx context.Context, manifest *assembly.PresentationManifest) ([]byte, error)
}

// HTTPRenderer posts the manifest to the presentation writer service and
// returns the binary artifact from the response body.
type HTTPRenderer struct {
	url  string
	http *http.Client
}

// NewHTTPRenderer creates a renderer for the writer at url.
func NewHTTPRenderer(url string) *HTTPRenderer {
	return &HTTPRenderer{
		url:  url,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, manifest *assembly.PresentationManifest) ([]byte, error) {
	payload, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal manifest: %s", ErrRenderFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %s", ErrRenderFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: writer request failed: %s", ErrRenderFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: writer returned status %d: %s", ErrRenderFailed, resp.StatusCode, detail)
	}
	artifact, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %s", ErrRenderFailed, err)
	}
	if len(artifact) == 0 {
		return nil, fmt.Errorf("%w: writer returned an empty artifact", ErrRenderFailed)
	}
	return artifact, nil
}

// JSONRenderer emits the manifest itself as indented JSON. Useful when no
// presentation writer is configured and for inspecting assembly output.
type JSONRenderer struct{}

func (JSONRenderer) Render(_ context.Context, manifest *assembly.PresentationManifest) ([]byte, error) {
	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal manifest: %s", ErrRenderFailed, err)
	}
	return out, nil
}
