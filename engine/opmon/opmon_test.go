package opmon

import (
	"testing"
	"time"

	"github.com/bmizerany/assert"
)

func TestOperation(t *testing.T) {
	before := monitor.count("opmon_test")
	for i := 0; i < 3; i++ {
		op := StartOperation("opmon_test")
		time.Sleep(time.Millisecond)
		op.Finish(time.Hour)
	}
	assert.Equal(t, before+3, monitor.count("opmon_test"))
	monitor.Dump()
	assert.Equal(t, uint64(0), monitor.count("opmon_test"))
}
