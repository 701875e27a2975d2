// Package errors provides structured pipeline errors with stable codes.
// Codes map onto gRPC status codes so errors can cross a process boundary intact.
package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Code identifies an error kind.
type Code string

const (
	Unknown             Code = "UNKNOWN"
	Internal            Code = "INTERNAL"
	InvalidArgument     Code = "INVALID_ARGUMENT"
	Cancelled           Code = "CANCELLED"
	AlreadyRecording    Code = "ALREADY_RECORDING"
	NotRecording        Code = "NOT_RECORDING"
	CaptureFailed       Code = "CAPTURE_FAILED"
	TranscriptionFailed Code = "TRANSCRIPTION_FAILED"
	UnsupportedLanguage Code = "UNSUPPORTED_LANGUAGE"
	TranslationFailed   Code = "TRANSLATION_FAILED"
	SynthesisFailed     Code = "SYNTHESIS_FAILED"
	ConfigInvalid       Code = "CONFIG_INVALID"
	ConfigMissing       Code = "CONFIG_MISSING"
)

// Metadata keys attached by the pipeline.
const (
	KeyStage  = "stage"
	KeyLang   = "lang"
	KeyReason = "reason"
)

// Translation failure reasons.
const (
	ReasonProviderFailure = "provider-failure"
	ReasonParseFailure    = "parse-failure"
	ReasonEmptyText       = "empty-text"
)

var grpcCodeMap = map[Code]codes.Code{
	Unknown:             codes.Unknown,
	Internal:            codes.Internal,
	InvalidArgument:     codes.InvalidArgument,
	Cancelled:           codes.Canceled,
	AlreadyRecording:    codes.FailedPrecondition,
	NotRecording:        codes.FailedPrecondition,
	CaptureFailed:       codes.Unavailable,
	TranscriptionFailed: codes.Internal,
	UnsupportedLanguage: codes.InvalidArgument,
	TranslationFailed:   codes.Internal,
	SynthesisFailed:     codes.Internal,
	ConfigInvalid:       codes.InvalidArgument,
	ConfigMissing:       codes.FailedPrecondition,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code && t.Message == ""
}

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// ToProto converts the error to a protobuf Struct detail.
func (e *AppError) ToProto() *structpb.Struct {
	fields := map[string]any{
		"code":    string(e.Code),
		"message": e.Message,
	}
	if len(e.Metadata) > 0 {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		fields["metadata"] = md
	}
	detail, err := structpb.NewStruct(fields)
	if err != nil {
		return &structpb.Struct{}
	}
	return detail
}

// GRPCStatus returns a gRPC status with the error detail attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	if withDetail, err := st.WithDetails(e.ToProto()); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError extracts an AppError from a gRPC status error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		s, ok := detail.(*structpb.Struct)
		if packed, isAny := detail.(*anypb.Any); isAny {
			s = &structpb.Struct{}
			ok = packed.UnmarshalTo(s) == nil
		}
		if !ok {
			continue
		}
		fields := s.AsMap()
		code, _ := fields["code"].(string)
		msg, _ := fields["message"].(string)
		appErr := &AppError{Code: Code(code), Message: msg}
		if md, ok := fields["metadata"].(map[string]any); ok {
			for k, v := range md {
				if sv, ok := v.(string); ok {
					appErr.WithMetadata(k, sv)
				}
			}
		}
		return appErr
	}

	return &AppError{Code: fromGRPCCode(st.Code()), Message: st.Message()}
}

// fromGRPCCode maps gRPC codes back to our codes (best effort).
func fromGRPCCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.FailedPrecondition:
		return ConfigMissing
	default:
		return Unknown
	}
}

// IsCode checks if any error in err's chain has a specific code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or Unknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// Meta returns the first value for key found walking err's AppError chain
// from the outside in.
func Meta(err error, key string) string {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return ""
		}
		if v, ok := appErr.Metadata[key]; ok {
			return v
		}
		err = appErr.Cause
	}
	return ""
}
