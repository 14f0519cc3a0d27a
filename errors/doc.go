// Package errors provides standardized error handling patterns for AsyncFlow components.
//
// # Overview
//
// The errors package implements a three-class error classification system for
// stream-processing components: Transient (temporary, retryable), Invalid
// (bad input, non-retryable), and Fatal (unrecoverable, stop processing).
//
// Classification lets sources, sinks, and the pipeline make retry and
// shutdown decisions without hardcoded error string matching, while staying
// compatible with errors.Is(), errors.As(), and standard wrapping chains.
//
// # Quick Start
//
// Use standard error variables for known conditions:
//
//	if !connected {
//	    return errors.ErrNoConnection
//	}
//
// Wrap errors with component context:
//
//	if err := sink.Publish(ctx, key, payload); err != nil {
//	    return errors.Wrap(err, "KafkaSink", "Publish", "write message")
//	}
//
// Check classification for retry logic:
//
//	if err := connect(); err != nil {
//	    if errors.IsTransient(err) {
//	        // retry with backoff (see pkg/retry)
//	    } else if errors.IsFatal(err) {
//	        return err
//	    }
//	}
//
// # Error Wrapping Pattern
//
// All wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// The classification-aware wrappers (WrapTransient, WrapInvalid, WrapFatal)
// apply this format and tag the result with a class; the generic Wrap()
// preserves whatever classification the underlying error already carries.
//
// Retry policy lives in pkg/retry; this package only answers whether an
// error is worth retrying.
package errors
