package summarizer

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessagesClient struct {
	resp *sdk.Message
	err  error
}

func (f *fakeMessagesClient) New(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	return f.resp, f.err
}

func textMessage(text string) *sdk.Message {
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: text},
		},
	}
}

func TestSummarize_ReturnsModelText(t *testing.T) {
	s, err := New(&fakeMessagesClient{resp: textMessage("fixed the auth bug and added tests")}, "claude-haiku-4-5")
	require.NoError(t, err)

	summary, err := s.Summarize(context.Background(), "sess-1", "some transcript excerpt")
	require.NoError(t, err)
	assert.Equal(t, "fixed the auth bug and added tests", summary)
}

func TestSummarize_PropagatesClientError(t *testing.T) {
	s, err := New(&fakeMessagesClient{err: errors.New("rate limited")}, "claude-haiku-4-5")
	require.NoError(t, err)

	_, err = s.Summarize(context.Background(), "sess-1", "transcript")
	assert.Error(t, err)
}

func TestSummarize_EmptyTranscriptErrors(t *testing.T) {
	s, err := New(&fakeMessagesClient{resp: textMessage("x")}, "claude-haiku-4-5")
	require.NoError(t, err)

	_, err = s.Summarize(context.Background(), "sess-1", "")
	assert.Error(t, err)
}

func TestNew_RequiresClientAndModel(t *testing.T) {
	_, err := New(nil, "claude-haiku-4-5")
	assert.Error(t, err)

	_, err = New(&fakeMessagesClient{}, "")
	assert.Error(t, err)
}
