package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/assembly"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/config"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/queue"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/tableau"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/transform"
)

// fakeFetcher returns canned CSV payloads per view key.
type fakeFetcher struct {
	payloads map[string]string
	err      error

	gotWorkbook string
	gotSite     string
	gotViews    []tableau.ViewRequest
}

func (f *fakeFetcher) FetchViewsInParallel(_ context.Context, views []tableau.ViewRequest, workbookName, site string, _ int) (map[string]string, error) {
	f.gotWorkbook = workbookName
	f.gotSite = site
	f.gotViews = views
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, v := range views {
		if csv, ok := f.payloads[v.ViewKey]; ok {
			out[v.ViewKey] = csv
		}
	}
	return out, nil
}

type fakeMailer struct {
	attachErr error
	plainErr  error

	sentTo       string
	sentSubject  string
	sentBody     string
	sentFile     string
	sentArtifact []byte

	plainTo   string
	plainBody string
}

func (m *fakeMailer) SendAttachment(_ context.Context, to, subject, bodyHTML string, attachment []byte, filename string) error {
	if m.attachErr != nil {
		return m.attachErr
	}
	m.sentTo, m.sentSubject, m.sentBody = to, subject, bodyHTML
	m.sentArtifact, m.sentFile = attachment, filename
	return nil
}

func (m *fakeMailer) SendPlain(_ context.Context, to, _, bodyHTML string) error {
	if m.plainErr != nil {
		return m.plainErr
	}
	m.plainTo, m.plainBody = to, bodyHTML
	return nil
}

type fakeRenderer struct {
	artifact []byte
	err      error
	got      *assembly.PresentationManifest
}

func (r *fakeRenderer) Render(_ context.Context, m *assembly.PresentationManifest) ([]byte, error) {
	r.got = m
	if r.err != nil {
		return nil, r.err
	}
	return r.artifact, nil
}

func politicalPayloads() map[string]string {
	return map[string]string{
		"TOTAL_SPEND":       "Total Spend\n\"1,234,567\"\n",
		"TOTAL_IMPRESSIONS": "Total Impressions\n\"8,400,100\"\n",
		"CHANNEL_DATA": "Channel,Spend,Impressions,CPM,Reach %\n" +
			"CTV,\"120,500\",\"8,400,100\",14.35,57.03\n",
	}
}

func newPipeline(t *testing.T, fetcher Fetcher, renderer Renderer, mailer Mailer) *Processor {
	t.Helper()
	registry, err := config.LoadRegistry("")
	require.NoError(t, err)
	logger := zap.NewNop()
	return NewProcessor(
		registry,
		transform.New(registry, logger),
		fetcher,
		assembly.New(registry, logger),
		renderer,
		mailer,
		5,
		logger,
	)
}

func testJob() *queue.Job {
	return &queue.Job{
		ID:        "42",
		UseCase:   "POLITICAL_SNAPSHOT",
		Recipient: "a@b.co",
		Filters:   map[string]string{"CHANNEL": "CTV"},
	}
}

func TestProcessHappyPath(t *testing.T) {
	fetcher := &fakeFetcher{payloads: politicalPayloads()}
	renderer := &fakeRenderer{artifact: []byte("pptx-bytes")}
	mailer := &fakeMailer{}
	p := newPipeline(t, fetcher, renderer, mailer)

	raw, err := p.Process(context.Background(), testJob())
	require.NoError(t, err)

	// Workbook and site come from the use case mapping; filters reach the
	// fetch layer already bound to remote parameter names.
	assert.Equal(t, "PoliticalSnapshot", fetcher.gotWorkbook)
	assert.Equal(t, "political-ads", fetcher.gotSite)
	require.Len(t, fetcher.gotViews, 3)
	assert.Equal(t, map[string]string{"vf_Channel": "CTV"}, fetcher.gotViews[0].FilterParams)

	// The email carries the rendered artifact under a pptx filename.
	assert.Equal(t, "a@b.co", mailer.sentTo)
	assert.Equal(t, "Your Export Report", mailer.sentSubject)
	assert.Equal(t, []byte("pptx-bytes"), mailer.sentArtifact)
	assert.True(t, strings.HasPrefix(mailer.sentFile, "political-snapshot-"))
	assert.True(t, strings.HasSuffix(mailer.sentFile, ".pptx"))

	// The rendered manifest saw all four slides.
	require.NotNil(t, renderer.got)
	assert.Len(t, renderer.got.Slides, 4)

	assert.Contains(t, raw, `"success":true`)
	assert.Contains(t, raw, `"viewsProcessed":3`)
	assert.Contains(t, raw, `"useCase":"POLITICAL_SNAPSHOT"`)
}

func TestProcessPartialViewFailureStillCompletes(t *testing.T) {
	payloads := politicalPayloads()
	delete(payloads, "TOTAL_IMPRESSIONS") // that fetch failed upstream
	fetcher := &fakeFetcher{payloads: payloads}
	mailer := &fakeMailer{}
	p := newPipeline(t, fetcher, &fakeRenderer{artifact: []byte("x")}, mailer)

	raw, err := p.Process(context.Background(), testJob())
	require.NoError(t, err)
	assert.Contains(t, raw, `"viewsProcessed":2`)
}

func TestProcessNoViewsFetched(t *testing.T) {
	fetcher := &fakeFetcher{payloads: map[string]string{}}
	p := newPipeline(t, fetcher, &fakeRenderer{}, &fakeMailer{})

	_, err := p.Process(context.Background(), testJob())
	assert.ErrorIs(t, err, ErrNoViewsFetched)
}

func TestProcessAllTransformsFailed(t *testing.T) {
	// Views fetched, but none contains a data row.
	fetcher := &fakeFetcher{payloads: map[string]string{
		"TOTAL_SPEND":  "Total Spend\n",
		"CHANNEL_DATA": "Channel,Spend,Impressions,CPM,Reach %\n",
	}}
	p := newPipeline(t, fetcher, &fakeRenderer{}, &fakeMailer{})

	_, err := p.Process(context.Background(), testJob())
	assert.ErrorIs(t, err, ErrAllTransformsFailed)
}

func TestProcessUnknownUseCase(t *testing.T) {
	p := newPipeline(t, &fakeFetcher{}, &fakeRenderer{}, &fakeMailer{})

	job := testJob()
	job.UseCase = "NOPE"
	_, err := p.Process(context.Background(), job)
	assert.ErrorIs(t, err, config.ErrUseCaseNotFound)
}

func TestProcessEmailFailurePropagates(t *testing.T) {
	fetcher := &fakeFetcher{payloads: politicalPayloads()}
	mailer := &fakeMailer{attachErr: errors.New("gateway down")}
	p := newPipeline(t, fetcher, &fakeRenderer{artifact: []byte("x")}, mailer)

	_, err := p.Process(context.Background(), testJob())
	assert.ErrorIs(t, err, ErrEmailFailed)
}

func TestProcessRenderFailurePropagates(t *testing.T) {
	fetcher := &fakeFetcher{payloads: politicalPayloads()}
	renderer := &fakeRenderer{err: ErrRenderFailed}
	p := newPipeline(t, fetcher, renderer, &fakeMailer{})

	_, err := p.Process(context.Background(), testJob())
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestOnTerminalFailureSwallowsMailerErrors(t *testing.T) {
	mailer := &fakeMailer{plainErr: errors.New("gateway down")}
	p := newPipeline(t, &fakeFetcher{}, &fakeRenderer{}, mailer)

	// Must not panic or return anything — the original failure reason is
	// what the job keeps.
	p.OnTerminalFailure(context.Background(), testJob(), "No view data was successfully fetched")
}

func TestOnTerminalFailureSendsFailureEmail(t *testing.T) {
	mailer := &fakeMailer{}
	p := newPipeline(t, &fakeFetcher{}, &fakeRenderer{}, mailer)

	p.OnTerminalFailure(context.Background(), testJob(), "No view data was successfully fetched")
	assert.Equal(t, "a@b.co", mailer.plainTo)
	assert.Contains(t, mailer.plainBody, "POLITICAL_SNAPSHOT")
	assert.Contains(t, mailer.plainBody, "No view data was successfully fetched")
}

func TestHTTPRenderer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte("artifact"))
	}))
	t.Cleanup(srv.Close)

	out, err := NewHTTPRenderer(srv.URL).Render(context.Background(), &assembly.PresentationManifest{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), out)
}

func TestHTTPRendererErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := NewHTTPRenderer(srv.URL).Render(context.Background(), &assembly.PresentationManifest{})
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestJSONRenderer(t *testing.T) {
	out, err := JSONRenderer{}.Render(context.Background(), &assembly.PresentationManifest{Title: "t", Layout: "LAYOUT_WIDE"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"title": "t"`)
}
