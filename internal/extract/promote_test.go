package extract

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batchcrawl/internal/crawler"
)

const shellPage = `<html><head><title>Shell</title></head><body><div id="root">Loading</div></body></html>`

func TestShellDetector(t *testing.T) {
	t.Parallel()

	d := NewShellDetector(0)
	require.Equal(t, 2048, d.MaxShellBytes)

	tests := []struct {
		name string
		resp crawler.FetchResponse
		want bool
	}{
		{name: "empty body", resp: crawler.FetchResponse{StatusCode: http.StatusOK}, want: true},
		{name: "mount point", resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte(shellPage)}, want: true},
		{
			name: "script heavy",
			resp: crawler.FetchResponse{
				StatusCode: http.StatusOK,
				Body:       []byte(`<html><body><script>var state = {items: [1, 2, 3], render: true};</script><p>t</p></body></html>`),
			},
			want: true,
		},
		{name: "article", resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte(samplePage)}},
		{
			name: "mount point with real text",
			resp: crawler.FetchResponse{
				StatusCode: http.StatusOK,
				Body:       []byte(`<html><body><div id="app"><p>` + strings.Repeat("server rendered words ", 20) + `</p></div></body></html>`),
			},
		},
		{name: "not found", resp: crawler.FetchResponse{StatusCode: http.StatusNotFound}},
		{name: "already browser", resp: crawler.FetchResponse{StatusCode: http.StatusOK, UsedBrowser: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, d.ShouldPromote(tt.resp))
		})
	}
}

func TestFetchAndExtractPromotesShells(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte(shellPage)}}
	browser := &fakeFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte(samplePage), UsedBrowser: true}}
	c, err := New(plain, WithBrowser(browser), WithPromotion(NewShellDetector(0)))
	require.NoError(t, err)

	page, err := c.FetchAndExtract(context.Background(), "https://example.com/", crawler.ContentOptions{})
	require.NoError(t, err)
	require.Equal(t, "Sample Article", page.Title)
	require.Len(t, plain.calls, 1)
	require.Len(t, browser.calls, 1)
}

func TestFetchAndExtractKeepsPlainWhenPromotionFails(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte(shellPage)}}
	browser := &fakeFetcher{err: errors.New("chrome crashed")}
	c, err := New(plain, WithBrowser(browser), WithPromotion(NewShellDetector(0)))
	require.NoError(t, err)

	page, err := c.FetchAndExtract(context.Background(), "https://example.com/", crawler.ContentOptions{})
	require.NoError(t, err)
	require.Equal(t, "Shell", page.Title)
	require.Len(t, browser.calls, 1)
}

func TestFetchAndExtractSkipsPromotionWithoutBrowser(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte(shellPage)}}
	c, err := New(plain, WithPromotion(NewShellDetector(0)))
	require.NoError(t, err)

	page, err := c.FetchAndExtract(context.Background(), "https://example.com/", crawler.ContentOptions{})
	require.NoError(t, err)
	require.Equal(t, "Shell", page.Title)
}
