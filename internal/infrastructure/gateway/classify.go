package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

const codeOK = 200

// Caller-facing messages. Server and network failures never echo backend details.
const (
	msgAuth       = "not logged in or login expired, please log in again"
	msgPermission = "no permission to access this resource"
	msgNotFound   = "requested resource does not exist"
	msgServer     = "internal server error"
	msgNetwork    = "network connection failed, check your network"
	msgTimeout    = "request timed out, check your network"
	msgRejected   = "request rejected"
	msgMalformed  = "malformed response from server"
)

// classify maps an application or HTTP status code to the failure taxonomy.
// message is the backend's own message, used only where it is safe to surface.
func classify(code int, message string) *domain.Error {
	switch {
	case code == http.StatusUnauthorized:
		return &domain.Error{Kind: domain.KindAuthHard, Message: msgAuth, Code: code}
	case code == http.StatusForbidden:
		return &domain.Error{Kind: domain.KindPermission, Message: msgPermission, Code: code}
	case code == http.StatusNotFound:
		return &domain.Error{Kind: domain.KindNotFound, Message: msgNotFound, Code: code}
	case code >= http.StatusInternalServerError:
		return &domain.Error{Kind: domain.KindServer, Message: msgServer, Code: code}
	default:
		if message == "" {
			message = msgRejected
		}
		return &domain.Error{Kind: domain.KindRejected, Message: message, Code: code}
	}
}

// classifyTransport maps a failed round trip (no response) to NetworkFailure.
func classifyTransport(ctx context.Context, err error) *domain.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.Error{Kind: domain.KindNetwork, Message: msgTimeout, Err: err}
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return &domain.Error{Kind: domain.KindNetwork, Message: msgTimeout, Err: err}
	}
	return &domain.Error{Kind: domain.KindNetwork, Message: msgNetwork, Err: err}
}

func isUnauthorized(err error) bool {
	var de *domain.Error
	return errors.As(err, &de) && de.Kind == domain.KindAuthHard && de.Code == http.StatusUnauthorized
}
