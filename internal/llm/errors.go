package llm

import (
	"errors"
	"net/http"

	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
)

// StatusCode extracts an HTTP status from a provider error, looking through
// every provider's error type. It reports false when none is found.
func StatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode > 0 {
		return pe.StatusCode, true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code > 0 {
		return gerr.Code, true
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			return code, true
		}
		if st := aerr.GRPCStatus(); st != nil {
			if code, ok := grpcToHTTP[st.Code()]; ok {
				return code, true
			}
		}
	}

	var oerr *openai.APIError
	if errors.As(err, &oerr) && oerr.HTTPStatusCode > 0 {
		return oerr.HTTPStatusCode, true
	}
	var rerr *openai.RequestError
	if errors.As(err, &rerr) && rerr.HTTPStatusCode > 0 {
		return rerr.HTTPStatusCode, true
	}

	var serr api.StatusError
	if errors.As(err, &serr) && serr.StatusCode > 0 {
		return serr.StatusCode, true
	}
	var sperr *api.StatusError
	if errors.As(err, &sperr) && sperr.StatusCode > 0 {
		return sperr.StatusCode, true
	}

	return 0, false
}

var grpcToHTTP = map[codes.Code]int{
	codes.ResourceExhausted: http.StatusTooManyRequests,
	codes.Internal:          http.StatusInternalServerError,
	codes.Unavailable:       http.StatusServiceUnavailable,
	codes.DeadlineExceeded:  http.StatusGatewayTimeout,
	codes.InvalidArgument:   http.StatusBadRequest,
	codes.PermissionDenied:  http.StatusForbidden,
	codes.Unauthenticated:   http.StatusUnauthorized,
	codes.NotFound:          http.StatusNotFound,
}
