package domain

import "fmt"

// ConnectionError means an adapter could not establish its event stream.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connect: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
