package monitor

import (
	"github.com/sthembisoo/api-error-monitor/monitor/forensics"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

// assemble builds the immutable report for one capture.
func (m *Monitor) assemble(d types.Diagnostic, extracted types.ApiErrorInfo, in CaptureInput) types.ApiErrorReport {
	kind := refineKind(d.Kind, extracted)
	if kind == types.KindUnclassified {
		// Unclassified errors carry the message only, unless the caller says otherwise.
		extracted = types.ApiErrorInfo{}
	}
	info := extracted.Merge(types.ApiErrorInfo{
		Key:          in.Key,
		ExpectedType: in.ExpectedType,
		ReceivedType: in.ReceivedType,
	})

	return types.NewReport(types.ReportInput{
		AppName:      m.cfg.AppName,
		Endpoint:     in.Endpoint,
		ErrorMessage: forensics.StripStackLines(d.Message),
		Kind:         kind,
		Info:         info,
		StackTrace:   in.StackTrace,
		RequestData:  in.RequestData,
		ResponseData: in.ResponseData,
	})
}

// refineKind upgrades an unclassified error when extraction found a type pair or a key.
// A key with no type pair points at a field the decoder could not read.
func refineKind(kind types.Kind, info types.ApiErrorInfo) types.Kind {
	if kind != types.KindUnclassified {
		return kind
	}
	switch {
	case info.ReceivedType == "null":
		return types.KindNullValue
	case info.ReceivedType != "" || info.ExpectedType != "":
		return types.KindTypeMismatch
	case info.Key != "":
		return types.KindMissingKey
	}
	return kind
}
