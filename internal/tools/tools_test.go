package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCannedOrder(t *testing.T) {
	cases := []struct {
		query  string
		source string
	}{
		{"What is Ubuntu?", "simulated-search-engine.com/ubuntu-overview"},
		{"tell me about NEXT.JS routing", "simulated-search-engine.com/nextjs-framework"},
		{"weather in Paris today", "simulated-weather-service.com/paris"},
		{"linux kernels", "simulated-search-engine.com/linux-general"},
		// ubuntu wins over linux because it is checked first
		{"ubuntu linux", "simulated-search-engine.com/ubuntu-overview"},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			assert.Equal(t, tc.source, Search(tc.query).Source)
		})
	}
}

func TestSearchDefault(t *testing.T) {
	res := Search("best pizza dough")
	assert.Equal(t, `This is a general simulated search result for "best pizza dough". Specific details would require a real search.`, res.Content)
	assert.Equal(t, "simulated-search-engine.com/search?q=best%20pizza%20dough", res.Source)
}

func TestSearchToolInvokable(t *testing.T) {
	st := NewSearchTool()
	info, err := st.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SearchToolName, info.Name)

	out, err := st.InvokableRun(context.Background(), `{"searchQuery":"ubuntu"}`)
	require.NoError(t, err)
	var res SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "simulated-search-engine.com/ubuntu-overview", res.Source)

	_, err = st.InvokableRun(context.Background(), `{"searchQuery":"   "}`)
	assert.Error(t, err)
}

type fakeRenderer struct {
	uri   string
	err   error
	calls int
}

func (f *fakeRenderer) Render(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.uri, f.err
}

func TestImageToolStoresInGallery(t *testing.T) {
	renderer := &fakeRenderer{uri: "data:image/png;base64,AAAA"}
	it := NewImageTool(renderer, 0, 0)
	ctx, gallery := WithGallery(context.Background())

	out, err := it.InvokableRun(ctx, `{"imagePrompt":"a cat"}`)
	require.NoError(t, err)

	var res ImageToolResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "generated-image-1", res.ImageURL)

	latest, ok := gallery.Latest()
	require.True(t, ok)
	assert.Equal(t, renderer.uri, latest)
}

func TestImageToolPropagatesFailure(t *testing.T) {
	it := NewImageTool(&fakeRenderer{err: errors.New("no image returned")}, 0, 0)
	_, err := it.Generate(context.Background(), "a cat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image returned")
}

func TestImageToolRateLimitPerDialog(t *testing.T) {
	renderer := &fakeRenderer{uri: "data:image/png;base64,AAAA"}
	it := NewImageTool(renderer, 1, 1)

	chatOne := WithDialog(context.Background(), "chat-1")
	chatTwo := WithDialog(context.Background(), "chat-2")

	_, err := it.Generate(chatOne, "first")
	require.NoError(t, err)
	_, err = it.Generate(chatOne, "second")
	assert.ErrorIs(t, err, ErrImageRateLimited)

	_, err = it.Generate(chatTwo, "other dialog")
	assert.NoError(t, err)
	assert.Equal(t, 2, renderer.calls)
}

func TestDialogContext(t *testing.T) {
	_, ok := DialogFromContext(context.Background())
	assert.False(t, ok)
	id, ok := DialogFromContext(WithDialog(context.Background(), "chat-3"))
	assert.True(t, ok)
	assert.Equal(t, "chat-3", id)
}
