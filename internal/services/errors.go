package services

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrWalletUnavailable    = errors.New("merchant wallet unavailable")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrPersistFailed        = errors.New("persist payment request failed")
)
