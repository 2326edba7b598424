package chrometrace

import (
	"testing"

	"github.com/CedricHerzog/perfowl/internal/testutil"
)

func TestBuildMetadataEventsEmptyMaps(t *testing.T) {
	events := BuildMetadataEvents(nil, nil)
	testutil.AssertSliceEmpty(t, events)
}

func TestBuildMetadataEventsOneDeviceOneThread(t *testing.T) {
	events := BuildMetadataEvents(map[int64]int64{100: 0}, map[int64]string{7: "compute"})
	testutil.AssertSliceLen(t, events, 2)

	var sawProcess, sawThread bool
	for _, e := range events {
		testutil.AssertEqual(t, e.Ph, PhaseMetadata)
		testutil.AssertEqual(t, e.Pid, any("Device 0"))
		if e.Name == "process_name" {
			sawProcess = true
		}
		if e.Name == "thread_name" {
			sawThread = true
			testutil.AssertEqual(t, e.Tid, any(int64(7)))
		}
	}
	testutil.AssertTrue(t, sawProcess, "expected a process_name event")
	testutil.AssertTrue(t, sawThread, "expected a thread_name event")
}

func TestBuildMetadataEventsDedupesDevicesAcrossMultiplePids(t *testing.T) {
	// Two OS pids mapping to the same GPU device must only emit one
	// process_name event for that device.
	events := BuildMetadataEvents(map[int64]int64{100: 0, 200: 0}, nil)
	count := 0
	for _, e := range events {
		if e.Name == "process_name" {
			count++
		}
	}
	testutil.AssertEqual(t, count, 1)
}
