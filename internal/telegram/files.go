package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/set-night/evochat/internal/config"
)

// DownloadFile downloads a file from Telegram by file ID. Files larger than
// config.MaxAttachmentBytes are rejected.
func DownloadFile(ctx context.Context, b *bot.Bot, fileID string) ([]byte, error) {
	file, err := b.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if file.FileSize > config.MaxAttachmentBytes {
		return nil, fmt.Errorf("file too large: %d bytes", file.FileSize)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", b.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file data: %w", err)
	}
	if len(data) > config.MaxAttachmentBytes {
		return nil, fmt.Errorf("file too large")
	}
	return data, nil
}
