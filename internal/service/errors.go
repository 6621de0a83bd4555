package service

import (
	"errors"
	"fmt"

	"collaborative-whiteboard/internal/domain"
)

var (
	ErrInternalServer = errors.New("internal server error")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidTicket  = errors.New("invalid or expired ticket")
	// ErrTooManyJoins 属于访问拒绝，客户端收到 access-denied
	ErrTooManyJoins = fmt.Errorf("%w: too many join attempts, try again later", domain.ErrAccessDenied)
)
