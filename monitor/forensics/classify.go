package forensics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

// networkPhrases are message fragments of transport failures rather than parsing failures.
var networkPhrases = []string{
	"socketexception",
	"handshakeexception",
	"clientexception",
	"connection refused",
	"connection reset",
	"connection closed",
	"failed host lookup",
	"network is unreachable",
	"no such host",
	"i/o timeout",
	"timeoutexception",
	"context deadline exceeded",
	"xmlhttprequest error",
	"tls handshake",
}

// IsNetworkMessage reports whether msg reads like a connectivity failure.
func IsNetworkMessage(msg string, extra ...string) bool {
	lower := strings.ToLower(msg)
	for _, p := range networkPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, p := range extra {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Classify turns a caught error into a Diagnostic. It is the only place that inspects the
// concrete error value; extraction works on the returned text.
func Classify(err error, stackTrace string) types.Diagnostic {
	d := types.Diagnostic{StackTrace: stackTrace, Kind: types.KindUnclassified}
	if err == nil {
		return d
	}
	d.Message = err.Error()
	if root := rootCause(err); root != nil && root.Error() != d.Message {
		d.ErrorText = root.Error()
	}

	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.As(err, &typeErr):
		d.Kind = types.KindTypeMismatch
	case errors.As(err, &syntaxErr):
		d.Kind = types.KindUnclassified
	case errors.As(err, &netErr), errors.As(err, &urlErr), errors.Is(err, context.DeadlineExceeded):
		d.Kind = types.KindNetwork
	default:
		d.Kind = ClassifyMessage(d.Message)
	}
	return d
}

// ClassifyMessage derives a Kind from message text alone.
func ClassifyMessage(msg string) types.Kind {
	lower := strings.ToLower(msg)
	switch {
	case msg == "":
		return types.KindUnclassified
	case IsNetworkMessage(msg):
		return types.KindNetwork
	case strings.Contains(lower, "type 'null' is not a subtype"),
		strings.Contains(lower, "null check operator"):
		return types.KindNullValue
	case strings.Contains(lower, "is not a subtype of"),
		strings.Contains(lower, "cannot unmarshal"),
		strings.Contains(lower, "expected a value of type"):
		return types.KindTypeMismatch
	case strings.Contains(lower, "key not found"),
		strings.Contains(lower, "no such key"),
		strings.Contains(lower, "missing required key"):
		return types.KindMissingKey
	}
	return types.KindUnclassified
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
