package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/fuel-code/server/pkg/domain"
	"github.com/fuel-code/server/pkg/objectstore"
)

// rawLine mirrors one JSONL record from the source transcript corpus (spec
// §4.G stage 3's message-type enumeration).
type rawLine struct {
	Type    string      `json:"type"`
	Message *rawMessage `json:"message,omitempty"`
}

type rawMessage struct {
	Role    string     `json:"role"`
	Model   string     `json:"model,omitempty"`
	Content []rawBlock `json:"content,omitempty"`
	Usage   *rawUsage  `json:"usage,omitempty"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Name      string          `json:"name,omitempty"`
	ID        string          `json:"id,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type rawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

// Result is what Parse hands the Persist stage.
type Result struct {
	Messages []domain.TranscriptMessage
	Blocks   []domain.ContentBlock
	Stats    domain.TranscriptStats
}

// Parse streams r line-by-line into transcript messages and content blocks
// (spec §4.G stage 3). It never loads the whole blob into memory: each line
// is read, decoded, and converted before the next is read. Lines that fail
// to parse are recorded in Stats.ParseErrors and do not abort the run.
//
// blobPrefix is the Object Store key prefix under which oversized
// tool_result bodies are offloaded (spec: "if result_text <= 64 KiB inline
// it; else upload to Object Store").
func Parse(ctx context.Context, r io.Reader, blobPrefix string, objects objectstore.Store, pricing Table) (Result, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var res Result
	lineNumber := 0
	ordinal := 0

	for {
		line, readErr := br.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lineNumber++
			if err := ctx.Err(); err != nil {
				return res, err
			}
			m, blocks, perr := parseLine(ctx, trimmed, lineNumber, blobPrefix, objects, pricing)
			if perr != nil {
				res.Stats.ParseErrors = append(res.Stats.ParseErrors, domain.ParseLineError{
					LineNumber: lineNumber,
					Error:      perr.Error(),
				})
			} else if m != nil {
				ordinal++
				m.Ordinal = ordinal
				res.Messages = append(res.Messages, *m)
				res.Blocks = append(res.Blocks, blocks...)
				accumulateStats(&res.Stats, m, blocks)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return res, fmt.Errorf("reading transcript line %d: %w", lineNumber+1, readErr)
		}
	}

	return res, nil
}

func parseLine(ctx context.Context, line string, lineNumber int, blobPrefix string, objects objectstore.Store, pricing Table) (*domain.TranscriptMessage, []domain.ContentBlock, error) {
	var raw rawLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	mt := domain.MessageType(raw.Type)
	if !mt.ProducesRow() {
		return nil, nil, nil
	}
	if raw.Message == nil {
		return nil, nil, fmt.Errorf("%s line missing message field", raw.Type)
	}

	msgID := uuid.Must(uuid.NewV7()).String()
	msg := &domain.TranscriptMessage{
		ID:          msgID,
		LineNumber:  lineNumber,
		MessageType: mt,
		Role:        raw.Message.Role,
		Model:       raw.Message.Model,
	}
	if raw.Message.Usage != nil {
		u := raw.Message.Usage
		msg.TokensIn = u.InputTokens
		msg.TokensOut = u.OutputTokens
		msg.CacheReadIn = u.CacheReadInputTokens
		msg.CacheWriteIn = u.CacheCreationInputTokens
		msg.CostUSD = pricing.Cost(msg.Model, u.InputTokens, u.OutputTokens, u.CacheReadInputTokens, u.CacheCreationInputTokens)
	}

	blocks := make([]domain.ContentBlock, 0, len(raw.Message.Content))
	for i, b := range raw.Message.Content {
		block, err := convertBlock(ctx, b, msgID, i, blobPrefix, objects)
		if err != nil {
			return nil, nil, fmt.Errorf("content block %d: %w", i, err)
		}
		if block == nil {
			continue
		}
		blocks = append(blocks, *block)
		switch block.Type {
		case domain.ContentBlockText:
			msg.HasText = true
		case domain.ContentBlockThinking:
			msg.HasThinking = true
		case domain.ContentBlockToolUse:
			msg.HasToolUse = true
		case domain.ContentBlockToolResult:
			msg.HasToolResult = true
		}
	}

	return msg, blocks, nil
}

func convertBlock(ctx context.Context, b rawBlock, msgID string, order int, blobPrefix string, objects objectstore.Store) (*domain.ContentBlock, error) {
	blockID := uuid.Must(uuid.NewV7()).String()
	block := &domain.ContentBlock{
		ID:         blockID,
		MessageID:  msgID,
		BlockOrder: order,
		Type:       domain.ContentBlockType(b.Type),
	}

	switch block.Type {
	case domain.ContentBlockText:
		block.ContentText = b.Text
	case domain.ContentBlockThinking:
		block.ThinkingText = b.Thinking
	case domain.ContentBlockToolUse:
		block.ToolName = b.Name
		block.ToolUseID = b.ID
		block.ToolInput = b.Input
	case domain.ContentBlockToolResult:
		block.ToolUseID = b.ToolUseID
		text := extractResultText(b.Content)
		if len(text) <= domain.InlineResultLimit || objects == nil {
			block.ResultText = text
		} else {
			key := fmt.Sprintf("%s/blocks/%s.txt", blobPrefix, blockID)
			if err := objects.Put(ctx, key, strings.NewReader(text), int64(len(text))); err != nil {
				return nil, fmt.Errorf("offloading oversized tool_result: %w", err)
			}
			block.ResultS3Key = &key
		}
	default:
		return nil, nil
	}
	return block, nil
}

// extractResultText flattens a tool_result's content, which the source
// corpus represents either as a bare JSON string or as an array of
// text/other blocks.
func extractResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asBlocks []rawBlock
	if err := json.Unmarshal(raw, &asBlocks); err == nil {
		var sb strings.Builder
		for _, b := range asBlocks {
			if b.Text != "" {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}
	return string(raw)
}

func accumulateStats(stats *domain.TranscriptStats, m *domain.TranscriptMessage, blocks []domain.ContentBlock) {
	stats.MessageCount++
	stats.TokensIn += m.TokensIn
	stats.TokensOut += m.TokensOut
	stats.CacheReadTokens += m.CacheReadIn
	stats.CacheWriteTokens += m.CacheWriteIn
	stats.CostUSD += m.CostUSD

	for _, b := range blocks {
		if b.Type == domain.ContentBlockToolUse {
			stats.ToolUseCount++
		}
		if stats.InitialPrompt == nil && m.Role == "user" && b.Type == domain.ContentBlockText && b.ContentText != "" {
			text := b.ContentText
			stats.InitialPrompt = &text
		}
	}
}
