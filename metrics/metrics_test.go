package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"ariaview/types"
)

func TestRecordSnapshot(t *testing.T) {
	before := testutil.ToFloat64(SnapshotPublishes)

	s := types.NewSnapshot([]types.JobRecord{
		{GID: "a", Status: types.JobStatusActive},
		{GID: "b", Status: types.JobStatusActive},
		{GID: "c", Status: types.JobStatusError},
	})
	s.Version = 12
	RecordSnapshot(s)

	assert.Equal(t, 2.0, testutil.ToFloat64(JobsByStatus.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(JobsByStatus.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(JobsByStatus.WithLabelValues("waiting")))
	assert.Equal(t, 12.0, testutil.ToFloat64(SnapshotVersion))
	assert.Equal(t, before+1, testutil.ToFloat64(SnapshotPublishes))

	RecordSnapshot(types.NewSnapshot(nil))
	assert.Equal(t, 0.0, testutil.ToFloat64(JobsByStatus.WithLabelValues("active")))
}
