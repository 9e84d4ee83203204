package domain

import "errors"

var (
	ErrKeyMissing         = errors.New("api key missing")
	ErrKeyPermission      = errors.New("api key lacks permission for this model")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrEmptyImageResponse = errors.New("empty image response")
	ErrNoImageData        = errors.New("no image data in response")
	ErrSpeechDataMissing  = errors.New("speech data missing in response")
	ErrSessionBusy        = errors.New("session is awaiting a response")
	ErrSessionNotFound    = errors.New("session not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrEmptyInput         = errors.New("empty input")
	ErrNotEditable        = errors.New("only user messages can be edited")
)
