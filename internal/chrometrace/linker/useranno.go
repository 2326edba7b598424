package linker

import (
	"github.com/sirupsen/logrus"

	"github.com/CedricHerzog/perfowl/internal/chrometrace"
)

// LinkUserAnnotationToKernels implements the user-annotation replacement
// policy (spec §4.4.3): for every CPU-side user_annotation span that
// overlaps a CUDA runtime call which in turn launched a kernel, synthesize
// a gpu_user_annotation span covering the convex hull of those kernels.
//
// Unlike the NVTX linker, the CPU-side user_annotation event is NEVER
// removed — only a pre-existing gpu_user_annotation event of the same
// name is replaced. This asymmetry is intentional: user_annotation ranges
// (e.g. PyTorch record_function) are meaningful on their own CPU timeline
// even after GPU correlation, where NVTX ranges are considered fully
// superseded once promoted.
func LinkUserAnnotationToKernels(events []chrometrace.ChromeTraceEvent, verbose bool) []chrometrace.ChromeTraceEvent {
	adapter := ChromeTraceEventAdapter{}

	var userAnnotations, cudaRuntime, kernels []chrometrace.ChromeTraceEvent
	for _, e := range events {
		switch e.Cat {
		case "user_annotation":
			userAnnotations = append(userAnnotations, e)
		case "cuda_runtime":
			cudaRuntime = append(cudaRuntime, e)
		case chrometrace.CatKernel:
			kernels = append(kernels, e)
		}
	}

	if verbose {
		logrus.Infof("found %d user_annotation events, %d cuda_runtime events, %d kernel events",
			len(userAnnotations), len(cudaRuntime), len(kernels))
	}

	if len(userAnnotations) == 0 || len(cudaRuntime) == 0 || len(kernels) == 0 {
		return events
	}

	overlapping := FindOverlappingIntervals(userAnnotations, cudaRuntime, adapter)
	correlationMap := BuildCorrelationMap(kernels, adapter)

	existingGPUAnnotationIndex := make(map[string]int)
	for i, e := range events {
		if e.Cat == chrometrace.CatGPUUserAnno {
			existingGPUAnnotationIndex[e.Name] = i
		}
	}

	result := make([]chrometrace.ChromeTraceEvent, len(events))
	copy(result, events)
	removed := make(map[int]bool)
	var created int

	for _, ua := range userAnnotations {
		apiEvents := overlapping[adapter.GetEventID(ua)]
		if len(apiEvents) == 0 {
			continue
		}
		launchedKernels := FindKernelsForAnnotation(apiEvents, correlationMap, adapter)
		if len(launchedKernels) == 0 {
			continue
		}
		start, end, ok := AggregateKernelTimes(launchedKernels, adapter)
		if !ok {
			continue
		}

		representative := launchedKernels[0]
		pid := representative.Pid
		if deviceID, ok := representative.ArgInt("device"); ok {
			pid = deviceID
		}

		gpuAnnotation := chrometrace.ChromeTraceEvent{
			Name: ua.Name,
			Ph:   chrometrace.PhaseComplete,
			Cat:  chrometrace.CatGPUUserAnno,
			Ts:   start,
			Dur:  end - start,
			Pid:  pid,
			Tid:  representative.Tid,
			Args: map[string]any{
				"kernel_count": len(launchedKernels),
				"original_dur": ua.Dur,
			},
		}

		if idx, exists := existingGPUAnnotationIndex[ua.Name]; exists {
			removed[idx] = true
		}
		result = append(result, gpuAnnotation)
		created++
	}

	if created == 0 {
		return events
	}

	final := make([]chrometrace.ChromeTraceEvent, 0, len(result))
	for i, e := range result {
		if removed[i] {
			continue
		}
		final = append(final, e)
	}

	if verbose {
		logrus.Infof("linked %d user_annotation events to gpu_user_annotation events", created)
	}
	return final
}
