package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

func TestRecordCapture(t *testing.T) {
	before := testutil.ToFloat64(capturesTotal.WithLabelValues(OutcomeFiltered))
	RecordCapture(OutcomeFiltered)
	assert.Equal(t, before+1, testutil.ToFloat64(capturesTotal.WithLabelValues(OutcomeFiltered)))
}

func TestRecordExtraction(t *testing.T) {
	c := extractionsTotal.WithLabelValues(string(types.KindTypeMismatch), "true", "true")
	before := testutil.ToFloat64(c)

	RecordExtraction(types.KindTypeMismatch, types.ApiErrorInfo{Key: "price", ReceivedType: "int"})

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordDrain(t *testing.T) {
	delivered := testutil.ToFloat64(redeliveriesTotal.WithLabelValues("delivered"))
	dropped := testutil.ToFloat64(redeliveriesTotal.WithLabelValues("dropped"))

	RecordDrain(2, 1)

	assert.Equal(t, delivered+2, testutil.ToFloat64(redeliveriesTotal.WithLabelValues("delivered")))
	assert.Equal(t, dropped+1, testutil.ToFloat64(redeliveriesTotal.WithLabelValues("dropped")))
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(retryQueueDepth))
}
