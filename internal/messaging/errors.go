package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReceiver is returned when someone other than the receiver marks a message read
	ErrNotReceiver = errors.New("only the receiver can mark a message as read")
	// ErrReplyOutsideConversation is returned when replyToId points into another conversation
	ErrReplyOutsideConversation = errors.New("reply target belongs to a different conversation")
	ErrReplyTargetNotFound      = errors.New("reply target not found")
)

// ValidationError is a malformed send request. Nothing is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsPermission reports whether err is a permission failure
func IsPermission(err error) bool {
	return errors.Is(err, ErrNotReceiver) || errors.Is(err, ErrReplyOutsideConversation)
}
