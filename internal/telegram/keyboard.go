package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"
)

// InlineButton creates a single inline keyboard button.
func InlineButton(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// InlineKeyboard creates an inline keyboard from rows of buttons.
func InlineKeyboard(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// ButtonRow creates a row of inline buttons.
func ButtonRow(buttons ...models.InlineKeyboardButton) []models.InlineKeyboardButton {
	return buttons
}

// Checked prefixes a label with a check mark when on is set.
func Checked(label string, on bool) string {
	if on {
		return "✅ " + label
	}
	return label
}

// PaginationRow creates a pagination row with prev/next buttons. Callback
// data is "<prefix>:<page>".
func PaginationRow(currentPage, totalPages int, callbackPrefix string) []models.InlineKeyboardButton {
	if totalPages <= 1 {
		return nil
	}

	var row []models.InlineKeyboardButton
	if currentPage > 0 {
		row = append(row, InlineButton("⬅️", fmt.Sprintf("%s:%d", callbackPrefix, currentPage-1)))
	}

	row = append(row, InlineButton(
		fmt.Sprintf("%d/%d", currentPage+1, totalPages),
		"noop",
	))

	if currentPage < totalPages-1 {
		row = append(row, InlineButton("➡️", fmt.Sprintf("%s:%d", callbackPrefix, currentPage+1)))
	}

	return row
}
