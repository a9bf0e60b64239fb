package eventstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fuel-code/server/pkg/domain"
)

// TranscriptRepo persists parsed transcript messages and content blocks
// (spec §4.G stage 4, "Persist").
type TranscriptRepo struct{}

// ReplaceAll deletes any previously parsed rows for sessionID and inserts the
// given messages/blocks, making reparse idempotent (spec §4.G: "Before
// insert: delete any previously parsed rows for this session").
func (r *TranscriptRepo) ReplaceAll(ctx context.Context, tx pgx.Tx, sessionID string, messages []domain.TranscriptMessage, blocks []domain.ContentBlock) error {
	if _, err := tx.Exec(ctx, `DELETE FROM transcript_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clearing transcript_messages for session %s: %w", sessionID, err)
	}

	batch := &pgx.Batch{}
	for _, m := range messages {
		batch.Queue(`
			INSERT INTO transcript_messages (
				id, session_id, line_number, ordinal, message_type, role, model,
				tokens_in, tokens_out, cache_read_in, cache_write_in, cost_usd,
				compact_sequence, is_compacted, has_text, has_thinking, has_tool_use, has_tool_result
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			m.ID, m.SessionID, m.LineNumber, m.Ordinal, string(m.MessageType), m.Role, m.Model,
			m.TokensIn, m.TokensOut, m.CacheReadIn, m.CacheWriteIn, m.CostUSD,
			m.CompactSequence, m.IsCompacted, m.HasText, m.HasThinking, m.HasToolUse, m.HasToolResult,
		)
	}
	for _, b := range blocks {
		toolInput, err := json.Marshal(b.ToolInput)
		if err != nil {
			return fmt.Errorf("marshaling tool_input for block %s: %w", b.ID, err)
		}
		batch.Queue(`
			INSERT INTO content_blocks (
				id, message_id, session_id, block_order, type, content_text,
				thinking_text, tool_name, tool_use_id, tool_input, result_text, result_s3_key
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			b.ID, b.MessageID, b.SessionID, b.BlockOrder, string(b.Type), b.ContentText,
			b.ThinkingText, b.ToolName, b.ToolUseID, toolInput, b.ResultText, b.ResultS3Key,
		)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("persisting transcript row %d/%d for session %s: %w", i+1, batch.Len(), sessionID, err)
		}
	}
	return nil
}

// CountMessages reports how many transcript messages exist for a session,
// used by the thin session-detail query endpoint.
func (r *TranscriptRepo) CountMessages(ctx context.Context, q Querier, sessionID string) (int, error) {
	var count int
	err := q.QueryRow(ctx, `SELECT count(*) FROM transcript_messages WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting transcript_messages for session %s: %w", sessionID, err)
	}
	return count, nil
}

// TranscriptLine is one content block flattened for the summarizer's
// truncated, redacted view of a session (spec §4.G stage 5).
type TranscriptLine struct {
	Role     string
	Type     domain.ContentBlockType
	Text     string
	ToolName string
}

// ListForSummary reads back persisted content blocks for a session, ordered
// by message then block order, for feeding the Summarize stage. tool_result
// bodies are never returned — they can carry arbitrary file contents or
// secrets pulled in by the session's own tool calls — only which tool ran is
// kept. maxBlocks caps how many rows are read so one very long session can't
// blow past the summarizer's own input budget before truncation even runs.
func (r *TranscriptRepo) ListForSummary(ctx context.Context, q Querier, sessionID string, maxBlocks int) ([]TranscriptLine, error) {
	rows, err := q.Query(ctx, `
		SELECT m.role, cb.type, cb.content_text, cb.thinking_text, cb.tool_name
		FROM content_blocks cb
		JOIN transcript_messages m ON m.id = cb.message_id
		WHERE cb.session_id = $1
		ORDER BY m.ordinal, cb.block_order
		LIMIT $2`, sessionID, maxBlocks)
	if err != nil {
		return nil, fmt.Errorf("listing transcript blocks for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []TranscriptLine
	for rows.Next() {
		var role, contentText, thinkingText, toolName string
		var blockType domain.ContentBlockType
		if err := rows.Scan(&role, &blockType, &contentText, &thinkingText, &toolName); err != nil {
			return nil, fmt.Errorf("scanning transcript block for session %s: %w", sessionID, err)
		}
		line := TranscriptLine{Role: role, Type: blockType, ToolName: toolName}
		switch blockType {
		case domain.ContentBlockText:
			line.Text = contentText
		case domain.ContentBlockThinking:
			line.Text = thinkingText
		}
		out = append(out, line)
	}
	return out, rows.Err()
}
