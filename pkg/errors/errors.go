// Package errors classifies the failures raised by the reverse lookup core.
//
// Three classes are fatal to an analysis and are never silently defaulted:
// configuration problems (unknown strategy names, an empty population),
// structural problems in the ontology (dangling parents, cycles) and data
// shape problems rejected at a mutation boundary. A query that matches
// nothing is not an error at all and yields empty results.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorConfiguration marks unknown method names, invalid alpha and
	// degenerate populations.
	ErrorConfiguration ErrorClass = iota
	// ErrorStructural marks ontology graphs that violate the DAG contract.
	ErrorStructural
	// ErrorDataShape marks input rejected at a mutation or parsing boundary.
	ErrorDataShape
	// ErrorUnclassified is returned by Classify for foreign errors.
	ErrorUnclassified
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorConfiguration:
		return "configuration"
	case ErrorStructural:
		return "structural"
	case ErrorDataShape:
		return "data_shape"
	case ErrorUnclassified:
		return "unclassified"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Configuration errors
	ErrUnknownMethod   = errors.New("unknown method")
	ErrEmptyPopulation = errors.New("population is empty")
	ErrInvalidAlpha    = errors.New("alpha must be in (0, 1)")
	ErrInvalidConfig   = errors.New("invalid configuration")

	// Ontology structure errors
	ErrCycle          = errors.New("ontology contains a cycle")
	ErrDanglingParent = errors.New("parent term not in graph")
	ErrDuplicateTerm  = errors.New("duplicate term id")

	// Data shape errors
	ErrTermMismatch    = errors.New("annotation term does not match store key")
	ErrMissingIdentity = errors.New("annotation requires product and term id")
	ErrInvalidCounts   = errors.New("invalid contingency counts")
	ErrMalformedRecord = errors.New("malformed record")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapConfiguration wraps an error as a configuration error with context
func WrapConfiguration(err error, component, method, action string) error {
	return wrapClassified(ErrorConfiguration, err, component, method, action)
}

// WrapStructural wraps an error as a structural error with context
func WrapStructural(err error, component, method, action string) error {
	return wrapClassified(ErrorStructural, err, component, method, action)
}

// WrapDataShape wraps an error as a data shape error with context
func WrapDataShape(err error, component, method, action string) error {
	return wrapClassified(ErrorDataShape, err, component, method, action)
}

// Classify returns the error class for an error. Known sentinels are
// classified even when they were not wrapped by one of the Wrap helpers.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorUnclassified
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	switch {
	case errors.Is(err, ErrUnknownMethod),
		errors.Is(err, ErrEmptyPopulation),
		errors.Is(err, ErrInvalidAlpha),
		errors.Is(err, ErrInvalidConfig):
		return ErrorConfiguration
	case errors.Is(err, ErrCycle),
		errors.Is(err, ErrDanglingParent),
		errors.Is(err, ErrDuplicateTerm):
		return ErrorStructural
	case errors.Is(err, ErrTermMismatch),
		errors.Is(err, ErrMissingIdentity),
		errors.Is(err, ErrInvalidCounts),
		errors.Is(err, ErrMalformedRecord):
		return ErrorDataShape
	}
	return ErrorUnclassified
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return err != nil && Classify(err) == ErrorConfiguration
}

// IsStructural reports whether err is a structural ontology error.
func IsStructural(err error) bool {
	return err != nil && Classify(err) == ErrorStructural
}

// IsDataShape reports whether err is a data shape error.
func IsDataShape(err error) bool {
	return err != nil && Classify(err) == ErrorDataShape
}
