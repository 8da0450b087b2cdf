// SPDX-License-Identifier: MPL-2.0

package fault

import (
	"errors"
	"fmt"
	"slices"
)

// Server fault codes.
const (
	FrameworkError                  Code = "FrameworkError"
	SecurityException               Code = "SecurityException"
	Timeout                         Code = "Timeout"
	ServiceCheckedException         Code = "ServiceCheckedException"
	ServiceRuntimeException         Code = "ServiceRuntimeException"
	NoSuchOperation                 Code = "NoSuchOperation"
	NoSuchService                   Code = "NoSuchService"
	ServiceDisabled                 Code = "ServiceDisabled"
	OperationDisabled               Code = "OperationDisabled"
	MandatoryNotDefined             Code = "MandatoryNotDefined"
	UnidentifiedCaller              Code = "UnidentifiedCaller"
	UnknownCaller                   Code = "UnknownCaller"
	UnrecognisedCredentials         Code = "UnrecognisedCredentials"
	InvalidCredentials              Code = "InvalidCredentials"
	SubscriptionRequired            Code = "SubscriptionRequired"
	OperationForbidden              Code = "OperationForbidden"
	NoLocationSupplied              Code = "NoLocationSupplied"
	BannedLocation                  Code = "BannedLocation"
	JSONDeserialisationParseFailure Code = "JSONDeserialisationParseFailure"
	ClassConversionFailure          Code = "ClassConversionFailure"
	RateLimitExceeded               Code = "RateLimitExceeded"
)

const (
	// CategoryInternalError maps to a 500-class response.
	CategoryInternalError Category = "InternalError"
	// CategoryBadRequest maps to a 400-class response.
	CategoryBadRequest Category = "BadRequest"
	// CategoryUnauthorised maps to a 401-class response.
	CategoryUnauthorised Category = "Unauthorised"
	// CategoryForbidden maps to a 403-class response.
	CategoryForbidden Category = "Forbidden"
	// CategoryNotFound maps to a 404-class response.
	CategoryNotFound Category = "NotFound"
	// CategoryTimeout maps to a 504-class response.
	CategoryTimeout Category = "Timeout"
	// CategoryUnavailable maps to a 503-class response.
	CategoryUnavailable Category = "Unavailable"
	// CategoryTooManyRequests maps to a 429-class response.
	CategoryTooManyRequests Category = "TooManyRequests"
)

// ErrInvalidCode is returned when a Code value is not in the catalogue.
var ErrInvalidCode = errors.New("invalid fault code")

type (
	// Code is a server fault code reported to callers.
	Code string

	// Category is the transport-neutral response class of a Code.
	Category string

	// InvalidCodeError is returned when a Code value is not recognized.
	// It wraps ErrInvalidCode for errors.Is() compatibility.
	InvalidCodeError struct {
		Value Code
	}

	codeInfo struct {
		detail   string
		category Category
	}
)

var catalogue = map[Code]codeInfo{
	FrameworkError:                  {"DSC-0002", CategoryInternalError},
	SecurityException:               {"DSC-0003", CategoryForbidden},
	Timeout:                         {"DSC-0004", CategoryTimeout},
	ServiceCheckedException:         {"DSC-0005", CategoryInternalError},
	ServiceRuntimeException:         {"DSC-0006", CategoryInternalError},
	NoSuchOperation:                 {"DSC-0007", CategoryNotFound},
	NoSuchService:                   {"DSC-0008", CategoryNotFound},
	ServiceDisabled:                 {"DSC-0009", CategoryUnavailable},
	OperationDisabled:               {"DSC-0010", CategoryUnavailable},
	MandatoryNotDefined:             {"DSC-0018", CategoryBadRequest},
	UnidentifiedCaller:              {"DSC-0011", CategoryBadRequest},
	UnknownCaller:                   {"DSC-0012", CategoryBadRequest},
	UnrecognisedCredentials:         {"DSC-0013", CategoryBadRequest},
	InvalidCredentials:              {"DSC-0014", CategoryBadRequest},
	SubscriptionRequired:            {"DSC-0015", CategoryForbidden},
	OperationForbidden:              {"DSC-0016", CategoryForbidden},
	NoLocationSupplied:              {"DSC-0017", CategoryBadRequest},
	BannedLocation:                  {"DSC-0019", CategoryForbidden},
	JSONDeserialisationParseFailure: {"DSC-0020", CategoryBadRequest},
	ClassConversionFailure:          {"DSC-0021", CategoryBadRequest},
	RateLimitExceeded:               {"DSC-0022", CategoryTooManyRequests},
}

// Codes returns every catalogued code in lexical order.
func Codes() []Code {
	out := make([]Code, 0, len(catalogue))
	for c := range catalogue {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// String returns the code name.
func (c Code) String() string { return string(c) }

// Validate returns nil if c is catalogued.
func (c Code) Validate() error {
	if _, ok := catalogue[c]; !ok {
		return &InvalidCodeError{Value: c}
	}
	return nil
}

// Detail returns the stable detail code (e.g. "DSC-0007"), or "" for unknown codes.
func (c Code) Detail() string {
	return catalogue[c].detail
}

// Category returns the response class of c. Unknown codes are internal errors.
func (c Code) Category() Category {
	if info, ok := catalogue[c]; ok {
		return info.category
	}
	return CategoryInternalError
}

// Error implements the error interface.
func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid fault code %q", string(e.Value))
}

// Unwrap returns ErrInvalidCode.
func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }
