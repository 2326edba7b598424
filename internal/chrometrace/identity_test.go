package chrometrace

import (
	"testing"

	"github.com/CedricHerzog/perfowl/internal/testutil"
)

func TestNsToUs(t *testing.T) {
	testutil.AssertFloatApproxEqual(t, NsToUs(1000), 1.0, 1e-9)
	testutil.AssertFloatApproxEqual(t, NsToUs(1), 0.001, 1e-9)
	testutil.AssertFloatApproxEqual(t, NsToUs(0), 0.0, 1e-9)
}

func TestDecomposeGlobalTid(t *testing.T) {
	globalTid := int64(7)<<globalTidShift | 42
	pid, tid := DecomposeGlobalTid(globalTid)
	testutil.AssertEqual(t, pid, int64(7))
	testutil.AssertEqual(t, tid, int64(42))
}

func TestDecomposeGlobalTidMasksHighBits(t *testing.T) {
	// tid beyond the 24-bit mask must be truncated, not overflow into pid.
	globalTid := int64(3)<<globalTidShift | (globalTidMask + 5)
	pid, tid := DecomposeGlobalTid(globalTid)
	testutil.AssertEqual(t, pid, int64(3))
	testutil.AssertEqual(t, tid, int64(4))
}

func TestSameProcess(t *testing.T) {
	a := int64(9)<<globalTidShift | 10
	b := int64(9)<<globalTidShift | 99
	c := int64(8)<<globalTidShift | 10
	testutil.AssertTrue(t, SameProcess(a, b), "same high bits should be the same process")
	testutil.AssertFalse(t, SameProcess(a, c), "different high bits should not be the same process")
}
