package middleware

import "github.com/go-telegram/bot/models"

// Origin identifies where an update came from.
type Origin struct {
	Kind   string
	ChatID int64
	UserID int64
}

// OriginOf extracts the chat and sender of an update.
func OriginOf(update *models.Update) Origin {
	switch {
	case update.Message != nil:
		return messageOrigin("message", update.Message)
	case update.EditedMessage != nil:
		return messageOrigin("edited_message", update.EditedMessage)
	case update.CallbackQuery != nil:
		o := Origin{Kind: "callback_query", UserID: update.CallbackQuery.From.ID}
		if m := update.CallbackQuery.Message.Message; m != nil {
			o.ChatID = m.Chat.ID
		}
		return o
	default:
		return Origin{Kind: "unknown"}
	}
}

func messageOrigin(kind string, m *models.Message) Origin {
	o := Origin{Kind: kind, ChatID: m.Chat.ID}
	if m.From != nil {
		o.UserID = m.From.ID
	}
	return o
}
