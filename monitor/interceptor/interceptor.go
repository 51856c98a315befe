package interceptor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-resty/resty/v2"

	"github.com/sthembisoo/api-error-monitor/monitor"
)

// Capturer receives failed deserializations. *monitor.Monitor implements it.
type Capturer interface {
	Capture(ctx context.Context, err error, in monitor.CaptureInput)
}

// Attach registers an error hook on client that captures requests whose response arrived
// but could not be turned into the expected result, e.g. a SetResult decode failure.
// Transport failures without a response are left to the caller.
func Attach(client *resty.Client, c Capturer) *resty.Client {
	return client.OnError(func(req *resty.Request, err error) {
		var respErr *resty.ResponseError
		if !errors.As(err, &respErr) || respErr.Response == nil || respErr.Response.RawResponse == nil {
			return
		}
		c.Capture(req.Context(), respErr.Err, monitor.CaptureInput{
			Endpoint:     req.URL,
			RequestData:  requestData(req.Body),
			ResponseData: string(respErr.Response.Body()),
		})
	})
}

// DecodeJSON unmarshals body into v and captures the error if that fails.
// The decode error is returned unchanged.
func DecodeJSON(ctx context.Context, c Capturer, endpoint string, body []byte, v any) error {
	err := json.Unmarshal(body, v)
	if err != nil {
		c.Capture(ctx, err, monitor.CaptureInput{
			Endpoint:     endpoint,
			ResponseData: string(body),
		})
	}
	return err
}

// requestData returns the outbound body when it is a JSON object.
func requestData(body any) map[string]any {
	var raw []byte
	switch b := body.(type) {
	case map[string]any:
		return b
	case map[string]string:
		out := make(map[string]any, len(b))
		for k, v := range b {
			out[k] = v
		}
		return out
	case string:
		raw = []byte(b)
	case []byte:
		raw = b
	default:
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
