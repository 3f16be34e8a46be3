package errx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// Kind classifies failures by how the boundary reacts to them.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindConfiguration  Kind = "configuration"
	KindGeneration     Kind = "generation"
	KindDelivery       Kind = "delivery"
	KindStore          Kind = "store"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
)

// Error wraps an underlying error with a kind, an HTTP status and a safe message.
type Error struct {
	Kind    Kind
	Err     error
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, err error, status int, message string) *Error {
	return &Error{Kind: kind, Err: err, Status: status, Message: message}
}

func Auth(message string) *Error {
	return New(KindAuthentication, nil, http.StatusForbidden, message)
}

func Config(err error, message string) *Error {
	return New(KindConfiguration, err, http.StatusServiceUnavailable, message)
}

func Generation(err error) *Error {
	return New(KindGeneration, err, http.StatusBadGateway, "reply generation failed")
}

func Delivery(err error) *Error {
	return New(KindDelivery, err, http.StatusBadGateway, "reply delivery failed")
}

func Store(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return New(KindStore, err, http.StatusInternalServerError, SystemErrorMessage)
}

// WrapRedis maps Redis errors to the store kind.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(KindStore, err, http.StatusNotFound, "redis key not found")
	}
	return New(KindStore, err, http.StatusBadGateway, RedisErrorMessage)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
