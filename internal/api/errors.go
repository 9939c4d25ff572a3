package api

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/KFearsoff/tailforward/internal/pipeline"
	"github.com/KFearsoff/tailforward/internal/webhook"
)

// Text codes returned in ErrorResponse.Error.
const (
	TextCodeInvalidSignature = "WEBHOOK_INVALID_SIGNATURE"
	TextCodeMalformedPayload = "WEBHOOK_MALFORMED_PAYLOAD"
	TextCodePayloadTooLarge  = "WEBHOOK_PAYLOAD_TOO_LARGE"
	TextCodeUnreadableBody   = "WEBHOOK_UNREADABLE_BODY"
	TextCodeForwardingFailed = "WEBHOOK_FORWARDING_FAILED"
	TextCodeNotFound         = "NOT_FOUND"
	TextCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	TextCodeInternal         = "INTERNAL_ERROR"
)

func apiError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func apiWrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return apiError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// pipelineError maps a failed pipeline run onto an HTTP error envelope.
//
// Header, freshness and MAC failures all share one text code so a caller
// cannot tell which check it failed.
func pipelineError(err error) *goerrors.Error {
	meta := map[string]any{}
	var se *pipeline.StageError
	if errors.As(err, &se) {
		meta["stage"] = se.Stage.String()
	}

	var we *webhook.Error
	if !errors.As(err, &we) {
		return apiWrapError(err, goerrors.CategoryInternal, "webhook processing failed",
			http.StatusInternalServerError, TextCodeInternal, meta)
	}
	meta["kind"] = we.Kind.String()

	switch {
	case we.Kind.Authentication():
		return apiWrapError(err, goerrors.CategoryAuth, "webhook authentication failed",
			http.StatusUnprocessableEntity, TextCodeInvalidSignature, meta)
	case we.Kind == webhook.KindMalformedPayload:
		return apiWrapError(err, goerrors.CategoryBadInput, "webhook payload is malformed",
			http.StatusUnprocessableEntity, TextCodeMalformedPayload, meta)
	case we.Kind == webhook.KindForwardingFailure:
		status := http.StatusInternalServerError
		if we.StatusCode >= 400 && we.StatusCode <= 599 {
			status = we.StatusCode
		}
		meta["upstream_status"] = we.StatusCode
		meta["index"] = we.Index
		return apiWrapError(err, goerrors.CategoryOperation, "forwarding to telegram failed",
			status, TextCodeForwardingFailed, meta)
	}
	return apiWrapError(err, goerrors.CategoryInternal, "webhook processing failed",
		http.StatusInternalServerError, TextCodeInternal, meta)
}
