package service

import "errors"

var (
	// ErrActionCancelled is returned when the user declines a confirmation. It is not a failure.
	ErrActionCancelled = errors.New("action cancelled by user")
	// ErrCommentForbidden indicates the caller may not delete the comment.
	ErrCommentForbidden = errors.New("insufficient permissions for comment operation")
	// ErrCommentNotFound indicates the comment is not part of the course discussion.
	ErrCommentNotFound = errors.New("comment not found")
	// ErrCommentEmpty indicates the content carries no text once markup is stripped.
	ErrCommentEmpty = errors.New("comment content has no text")
	// ErrFeedItemNotMarkable is returned when marking a broadcast as read.
	ErrFeedItemNotMarkable = errors.New("only personal messages can be marked as read")
	// ErrFeedItemNotFound indicates the key is not in the current feed snapshot.
	ErrFeedItemNotFound = errors.New("feed item not found")
	// ErrNoReplyTarget indicates the feed item does not reference a comment.
	ErrNoReplyTarget = errors.New("feed item has no comment to reply to")
	// ErrContactNotFound indicates the contact is not in the roster.
	ErrContactNotFound = errors.New("contact not found")
	// ErrEngineClosed is returned by operations on a closed inbox.
	ErrEngineClosed = errors.New("inbox session closed")
)
