package extract

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/errclass"
)

const samplePage = `<!doctype html>
<html>
<head><title> Sample Article </title><style>p{}</style></head>
<body>
  <nav><a href="/home">Home</a> <a href="#top">Top</a></nav>
  <article>
    <h1>Heading</h1>
    <p>First paragraph of the article with enough words to look like content.</p>
    <p>Second paragraph <a href="https://other.example/x#frag">external</a> and
       <a href="/home">home again</a> and <a href="mailto:a@b.c">mail</a>.</p>
    <img src="/img/a.png"><img src="img/b.png"><img src="/img/a.png"><img src="data:image/png;base64,AA">
  </article>
  <script>var hidden = "script text";</script>
</body>
</html>`

type fakeFetcher struct {
	resp  crawler.FetchResponse
	err   error
	calls []crawler.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func TestExtractLinksAndImages(t *testing.T) {
	t.Parallel()

	page, err := Extract([]byte(samplePage), "https://example.com/blog/post", crawler.ContentOptions{
		IncludeLinks:  true,
		IncludeImages: true,
	})
	require.NoError(t, err)
	require.Equal(t, "Sample Article", page.Title)
	require.Equal(t, []string{
		"https://example.com/home",
		"https://other.example/x",
	}, page.Links)
	require.Equal(t, []string{
		"https://example.com/img/a.png",
		"https://example.com/blog/img/b.png",
	}, page.Images)
	require.Contains(t, page.TextContent, "First paragraph")
	require.NotContains(t, page.TextContent, "script text")
	require.Equal(t, samplePage, page.RawHTML)
}

func TestExtractOmitsLinksAndImagesWhenDisabled(t *testing.T) {
	t.Parallel()

	page, err := Extract([]byte(samplePage), "https://example.com/", crawler.ContentOptions{})
	require.NoError(t, err)
	require.Empty(t, page.Links)
	require.Empty(t, page.Images)
}

func TestExtractFallsBackToBodyText(t *testing.T) {
	t.Parallel()

	page, err := Extract([]byte(`<html><body><h1>Only</h1><script>x()</script></body></html>`),
		"https://example.com/", crawler.ContentOptions{})
	require.NoError(t, err)
	require.Equal(t, "Only", page.Title)
	require.Contains(t, page.TextContent, "Only")
	require.NotContains(t, page.TextContent, "x()")
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a\n\nb\nc", normalizeText("  a  \r\n\n\n   \n b\nc \n\n"))
	require.Empty(t, normalizeText(" \n\t\n"))
}

func TestFetchAndExtract(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{resp: crawler.FetchResponse{
		URL:        "https://example.com/final",
		StatusCode: http.StatusOK,
		Body:       []byte(samplePage),
	}}
	c, err := New(plain, WithHeaders(http.Header{"Accept-Language": {"en"}}))
	require.NoError(t, err)

	page, err := c.FetchAndExtract(context.Background(), "https://example.com/start", crawler.ContentOptions{IncludeLinks: true})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/final", page.URL)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.NotEmpty(t, page.Links)
	require.Len(t, plain.calls, 1)
	require.Equal(t, "en", plain.calls[0].Headers.Get("Accept-Language"))
}

func TestFetchAndExtractErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	plain := &fakeFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusNotFound}}
	c, err := New(plain)
	require.NoError(t, err)

	_, err = c.FetchAndExtract(context.Background(), "ftp://example.com/file", crawler.ContentOptions{})
	require.Equal(t, errclass.InvalidURL, errclass.Classify(err).Type)
	require.Empty(t, plain.calls)

	_, err = c.FetchAndExtract(context.Background(), "https://example.com/missing", crawler.ContentOptions{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.Equal(t, errclass.URLNotFound, errclass.Classify(err).Type)

	_, err = c.FetchAndExtract(context.Background(), "https://example.com/", crawler.ContentOptions{UseBrowser: true})
	require.ErrorIs(t, err, ErrBrowserUnavailable)
	require.Equal(t, errclass.BrowserNotAvailable, errclass.Classify(err).Type)

	plain.err = errors.New("dial tcp: connection refused")
	_, err = c.FetchAndExtract(context.Background(), "https://example.com/", crawler.ContentOptions{})
	require.Equal(t, errclass.ConnectionRefused, errclass.Classify(err).Type)
}

func TestFetchAndExtractUsesBrowser(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{}
	browser := &fakeFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte(samplePage), UsedBrowser: true}}
	c, err := New(plain, WithBrowser(browser))
	require.NoError(t, err)

	page, err := c.FetchAndExtract(context.Background(), "https://example.com/", crawler.ContentOptions{UseBrowser: true})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", page.URL)
	require.Empty(t, plain.calls)
	require.Len(t, browser.calls, 1)
}
