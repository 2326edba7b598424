package chrometrace

// BuildMetadataEvents synthesizes the process_name/thread_name M-phase
// events describing every device lane and the thread names nsys captured
// for it. Grounded on the converter's "process_name + thread_name per
// device x thread_names" metadata step — metadata is derived from the
// device map and thread-name map alone, not from the events actually
// emitted, so it can be written first in streaming mode before any
// category has produced a row.
func BuildMetadataEvents(deviceMap map[int64]int64, threadNames map[int64]string) []ChromeTraceEvent {
	var events []ChromeTraceEvent

	seenDevices := make(map[int64]bool)
	for _, deviceID := range deviceMap {
		if seenDevices[deviceID] {
			continue
		}
		seenDevices[deviceID] = true
		pidLabel := DevicePid(deviceID)
		events = append(events, ChromeTraceEvent{
			Name: "process_name",
			Ph:   PhaseMetadata,
			Cat:  "__metadata",
			Ts:   0,
			Pid:  pidLabel,
			Tid:  0,
			Args: map[string]any{"name": pidLabel},
		})
		for tid, name := range threadNames {
			events = append(events, ChromeTraceEvent{
				Name: "thread_name",
				Ph:   PhaseMetadata,
				Cat:  "__metadata",
				Ts:   0,
				Pid:  pidLabel,
				Tid:  tid,
				Args: map[string]any{"name": name},
			})
		}
	}
	return events
}
