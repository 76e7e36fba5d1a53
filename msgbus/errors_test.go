package msgbus

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewErrorFormatting(t *testing.T) {
	err := NewError(NotSubscribedError, "orders")
	if err.Error() != "NotSubscribedError: orders" {
		t.Fatalf("unexpected error text: %q", err.Error())
	}
	if NewError(ConnectionLostError).Error() != "ConnectionLostError" {
		t.Fatalf("unexpected error text without message")
	}
	if NewError(TransportError, errors.New("broken pipe")).Error() != "TransportError: broken pipe" {
		t.Fatalf("error message argument not formatted")
	}
}

func TestNewErrorUnknownCode(t *testing.T) {
	err := NewError(-1, "x")
	var busErr *Error
	if !errors.As(err, &busErr) || busErr.Code != UnknownError {
		t.Fatalf("expected UnknownError, got %v", err)
	}
	if NewError(UnknownError + 10).Error() != "UnknownError" {
		t.Fatalf("out of range code should map to UnknownError")
	}
}

func TestErrorIsComparesCode(t *testing.T) {
	wrapped := fmt.Errorf("subscribe orders: %w", NewError(AlreadySubscribedError, "orders"))
	if !errors.Is(wrapped, ErrAlreadySubscribed) {
		t.Fatalf("expected wrapped error to match ErrAlreadySubscribed")
	}
	if errors.Is(wrapped, ErrNotSubscribed) {
		t.Fatalf("codes must not cross-match")
	}
	if errors.Is(ErrConnectionLost, errors.New("ConnectionLostError")) {
		t.Fatalf("foreign errors must not match")
	}
}

func TestServerErrorFallsBackToKind(t *testing.T) {
	err := serverError("nack", "")
	var busErr *Error
	if !errors.As(err, &busErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if busErr.Code != ServerError || busErr.Kind != "nack" || busErr.Message != "nack" {
		t.Fatalf("unexpected server error: %+v", busErr)
	}
	if err.Error() != "ServerError: nack" {
		t.Fatalf("unexpected error text: %q", err.Error())
	}
}
