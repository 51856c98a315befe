package types

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
)

// Kind classifies the application error that triggered a capture.
type Kind string

const (
	KindUnclassified Kind = "unclassified"
	KindTypeMismatch Kind = "type_mismatch"
	KindMissingKey   Kind = "missing_key"
	KindNullValue    Kind = "null_value"
	KindNetwork      Kind = "network"
)

// Diagnostic is the classified form of a caught error, built once at the capture boundary.
type Diagnostic struct {
	// Message is the human-readable error text.
	Message string
	// ErrorText is the error value's own string when it differs from Message.
	ErrorText string
	// StackTrace is the optional stack trace associated with the error.
	StackTrace string
	Kind       Kind
}

// Corpus returns the message and stack trace joined into one search text.
func (d Diagnostic) Corpus() string {
	if d.StackTrace == "" {
		return d.Message
	}
	if d.Message == "" {
		return d.StackTrace
	}
	return d.Message + "\n" + d.StackTrace
}

// ApiErrorInfo is the result of one extraction pass. Empty strings mean "not found".
type ApiErrorInfo struct {
	Key          string `json:"key,omitempty"`
	ExpectedType string `json:"expectedType,omitempty"`
	ReceivedType string `json:"receivedType,omitempty"`
}

// IsEmpty reports whether nothing was extracted.
func (i ApiErrorInfo) IsEmpty() bool {
	return i.Key == "" && i.ExpectedType == "" && i.ReceivedType == ""
}

// Merge returns i with every non-empty field of override applied on top.
func (i ApiErrorInfo) Merge(override ApiErrorInfo) ApiErrorInfo {
	if override.Key != "" {
		i.Key = override.Key
	}
	if override.ExpectedType != "" {
		i.ExpectedType = override.ExpectedType
	}
	if override.ReceivedType != "" {
		i.ReceivedType = override.ReceivedType
	}
	return i
}

// MarshalLogObject lets the info be logged as a nested zap object.
func (i ApiErrorInfo) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if i.Key != "" {
		enc.AddString("key", i.Key)
	}
	if i.ExpectedType != "" {
		enc.AddString("expected_type", i.ExpectedType)
	}
	if i.ReceivedType != "" {
		enc.AddString("received_type", i.ReceivedType)
	}
	return nil
}

// ApiErrorReport is the durable record sent to the store and the sink.
type ApiErrorReport struct {
	ID           string         `json:"id" msgpack:"id"`
	AppName      string         `json:"appName" msgpack:"appName"`
	Endpoint     string         `json:"endpoint" msgpack:"endpoint"`
	ErrorMessage string         `json:"errorMessage" msgpack:"errorMessage"`
	Timestamp    time.Time      `json:"timestamp" msgpack:"timestamp"`
	Kind         Kind           `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Key          string         `json:"key,omitempty" msgpack:"key,omitempty"`
	ExpectedType string         `json:"expectedType,omitempty" msgpack:"expectedType,omitempty"`
	ReceivedType string         `json:"receivedType,omitempty" msgpack:"receivedType,omitempty"`
	StackTrace   string         `json:"stackTrace,omitempty" msgpack:"stackTrace,omitempty"`
	RequestData  map[string]any `json:"requestData,omitempty" msgpack:"requestData,omitempty"`
	ResponseData any            `json:"responseData,omitempty" msgpack:"responseData,omitempty"`
}

// ReportInput carries the fields needed to build a report.
type ReportInput struct {
	AppName      string
	Endpoint     string
	ErrorMessage string
	Timestamp    time.Time
	Kind         Kind
	Info         ApiErrorInfo
	StackTrace   string
	RequestData  map[string]any
	ResponseData any
}

// NewReport builds a report. A zero Timestamp defaults to now.
func NewReport(in ReportInput) ApiErrorReport {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var reqData map[string]any
	if len(in.RequestData) > 0 {
		reqData = make(map[string]any, len(in.RequestData))
		for k, v := range in.RequestData {
			reqData[k] = v
		}
	}
	return ApiErrorReport{
		ID:           uuid.NewString(),
		AppName:      in.AppName,
		Endpoint:     in.Endpoint,
		ErrorMessage: in.ErrorMessage,
		Timestamp:    ts,
		Kind:         in.Kind,
		Key:          in.Info.Key,
		ExpectedType: in.Info.ExpectedType,
		ReceivedType: in.Info.ReceivedType,
		StackTrace:   in.StackTrace,
		RequestData:  reqData,
		ResponseData: in.ResponseData,
	}
}

// Info returns the extraction fields carried by the report.
func (r ApiErrorReport) Info() ApiErrorInfo {
	return ApiErrorInfo{Key: r.Key, ExpectedType: r.ExpectedType, ReceivedType: r.ReceivedType}
}

// StackFrame represents a single source locator found in a stack trace
type StackFrame struct {
	FileName   string `json:"fileName"`
	LineNumber int    `json:"lineNumber"`
	MethodName string `json:"methodName,omitempty"`
}

// String renders the frame as file:line.
func (f StackFrame) String() string {
	return f.FileName + ":" + strconv.Itoa(f.LineNumber)
}
