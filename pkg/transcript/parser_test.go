package transcript

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuel-code/server/pkg/domain"
	"github.com/fuel-code/server/pkg/objectstore"
)

func TestParse_UserAndAssistantProduceRows(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"fix the bug"}]}}`,
		`{"type":"assistant","message":{"role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"on it"}],"usage":{"input_tokens":10,"output_tokens":20}}}`,
		`{"type":"progress","message":{"role":"system"}}`,
	}, "\n")

	res, err := Parse(context.Background(), strings.NewReader(input), "transcripts/ws/sess", objectstore.NewMemoryStore(), DefaultTable())
	require.NoError(t, err)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, 1, res.Messages[0].Ordinal)
	assert.Equal(t, 2, res.Messages[1].Ordinal)
	assert.Equal(t, domain.MessageTypeUser, res.Messages[0].MessageType)
	assert.Equal(t, domain.MessageTypeAssistant, res.Messages[1].MessageType)
	assert.EqualValues(t, 10, res.Messages[1].TokensIn)
	assert.EqualValues(t, 20, res.Messages[1].TokensOut)

	require.NotNil(t, res.Stats.InitialPrompt)
	assert.Equal(t, "fix the bug", *res.Stats.InitialPrompt)
	assert.Equal(t, 2, res.Stats.MessageCount)
}

func TestParse_MalformedLineRecordedNotFatal(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"ok"}]}}`,
		`not json at all`,
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"still works"}]}}`,
	}, "\n")

	res, err := Parse(context.Background(), strings.NewReader(input), "transcripts/ws/sess", objectstore.NewMemoryStore(), DefaultTable())
	require.NoError(t, err)

	require.Len(t, res.Messages, 2)
	require.Len(t, res.Stats.ParseErrors, 1)
	assert.Equal(t, 2, res.Stats.ParseErrors[0].LineNumber)
}

func TestParse_ToolResultOffloadsAboveInlineLimit(t *testing.T) {
	big := strings.Repeat("x", domain.InlineResultLimit+10)
	line := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"tool_result","tool_use_id":"t1","content":"` + big + `"}` +
		`]}}`

	store := objectstore.NewMemoryStore()
	res, err := Parse(context.Background(), strings.NewReader(line), "transcripts/ws/sess", store, DefaultTable())
	require.NoError(t, err)

	require.Len(t, res.Blocks, 1)
	block := res.Blocks[0]
	assert.Empty(t, block.ResultText)
	require.NotNil(t, block.ResultS3Key)

	exists, err := store.Head(context.Background(), *block.ResultS3Key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestParse_ToolResultInlinedBelowLimit(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"tool_result","tool_use_id":"t1","content":"small output"}` +
		`]}}`

	res, err := Parse(context.Background(), strings.NewReader(line), "transcripts/ws/sess", objectstore.NewMemoryStore(), DefaultTable())
	require.NoError(t, err)

	require.Len(t, res.Blocks, 1)
	assert.Equal(t, "small output", res.Blocks[0].ResultText)
	assert.Nil(t, res.Blocks[0].ResultS3Key)
}
