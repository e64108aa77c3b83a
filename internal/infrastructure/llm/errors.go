package llm

import (
	"errors"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"

	apperrors "novel-forge-api/pkg/errors"
)

// classifyError 将供应商错误归类为可重试/不可重试的应用错误
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return apperrors.Wrap(err, apperrors.CodeProviderRateLimited, "provider rate limited")
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return apperrors.Wrap(err, apperrors.CodeProviderAuth, "provider authentication failed")
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return apperrors.Wrap(err, apperrors.CodeProviderServer, "provider server error")
		case isContextLengthMessage(apiErr.Message):
			return apperrors.Wrap(err, apperrors.CodeProviderContextLength, "provider context length exceeded")
		}
		return apperrors.Wrap(err, apperrors.CodeProviderServer, "provider request failed")
	}

	if isContextLengthMessage(err.Error()) {
		return apperrors.Wrap(err, apperrors.CodeProviderContextLength, "provider context length exceeded")
	}
	return apperrors.Wrap(err, apperrors.CodeProviderServer, "provider request failed")
}

// isContextLengthMessage 识别上下文超长类错误
func isContextLengthMessage(msg string) bool {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "context length"):
		return true
	case strings.Contains(msg, "context_length_exceeded"):
		return true
	case strings.Contains(msg, "maximum context"):
		return true
	case strings.Contains(msg, "too many tokens"):
		return true
	default:
		return false
	}
}
