package store

import (
	"context"

	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
)

// Store persists messages and the per-user moderation flags consulted when
// saving them.
type Store interface {
	// SaveMessage records the draft and returns it with id and timestamp
	// assigned. Moderation rejections are errors.ErrorTypeModeration.
	SaveMessage(ctx context.Context, draft domain.Draft) (domain.Message, error)

	SetSuspended(ctx context.Context, userID domain.UserID, suspended bool) error
	SetBlockedFromGroup(ctx context.Context, userID domain.UserID, blocked bool) error

	Close(ctx context.Context) error
}

// ErrSenderSuspended rejects every send from a suspended user.
func ErrSenderSuspended() *errors.Error {
	return errors.New(errors.ErrorTypeModeration, domain.CodeSenderSuspended,
		"Your account is suspended. You cannot send messages.")
}

// ErrSenderBlockedFromGroup rejects group sends from a blocked user.
func ErrSenderBlockedFromGroup() *errors.Error {
	return errors.New(errors.ErrorTypeModeration, domain.CodeSenderBlocked,
		"You are blocked from sending messages in group chat.")
}

// ErrSenderNotFound rejects sends from an unknown account.
func ErrSenderNotFound() *errors.Error {
	return errors.New(errors.ErrorTypeModeration, domain.CodeSenderNotFound, "sender account does not exist")
}

func errUserNotFound(userID domain.UserID) *errors.Error {
	return errors.New(errors.ErrorTypeNotFound, "USER_NOT_FOUND", "user not found").WithDetails(userID.String())
}

// checkModeration applies the send rules shared by every store.
func checkModeration(draft domain.Draft, suspended, blockedFromGroup bool) error {
	if suspended {
		return ErrSenderSuspended()
	}
	if draft.IsGroup() && blockedFromGroup {
		return ErrSenderBlockedFromGroup()
	}
	return nil
}
