package license

import "courseplatform.app/api/internal/apperr"

var (
	ErrUnsupportedType     = apperr.New(apperr.InvalidInput, "UNSUPPORTED_LICENSE_TYPE", "Unsupported license type")
	ErrInvalidStatus       = apperr.New(apperr.InvalidInput, "INVALID_LICENSE_STATUS", "Unsupported license status")
	ErrMissingSubscription = apperr.New(apperr.InvalidInput, "MISSING_SUBSCRIPTION", "Checkout has no subscription id")
	ErrUserNotFound        = apperr.New(apperr.NotFound, "USER_NOT_FOUND", "User not found")
	ErrLicenseNotFound     = apperr.New(apperr.NotFound, "LICENSE_NOT_FOUND", "License not found")
	ErrInvalidKey          = apperr.New(apperr.NotFound, "INVALID_LICENSE_KEY", "Invalid license key")
	ErrNotMember           = apperr.New(apperr.NotFound, "NOT_A_MEMBER", "You are not a member of this license")
	ErrNotActive           = apperr.New(apperr.Forbidden, "LICENSE_NOT_ACTIVE", "This license is not active")
	ErrOwnerCannotLeave    = apperr.New(apperr.Forbidden, "OWNER_CANNOT_LEAVE", "License owners cannot leave; cancel the subscription instead")
	ErrNotOwner            = apperr.New(apperr.Forbidden, "NOT_LICENSE_OWNER", "Only the license owner can do this")
	ErrExpired             = apperr.New(apperr.Expired, "LICENSE_EXPIRED", "This license has expired")
	ErrAlreadyOwner        = apperr.New(apperr.Conflict, "ALREADY_OWNER", "You already own this license")
	ErrAlreadyMember       = apperr.New(apperr.Conflict, "ALREADY_MEMBER", "You are already a member of this license")
	ErrMemberElsewhere     = apperr.New(apperr.Conflict, "MEMBER_OF_OTHER_LICENSE", "You already belong to another license")
	ErrSeatsFull           = apperr.New(apperr.Conflict, "SEATS_FULL", "This license has no seats left")
	ErrKeySpaceExhausted   = apperr.New(apperr.Conflict, "LICENSE_KEY_EXHAUSTED", "Could not generate a unique license key")
	ErrMisconfigured       = apperr.New(apperr.Misconfigured, "PAYMENTS_NOT_CONFIGURED", "Payments are not configured")
)
