package linker

import (
	"fmt"

	"github.com/CedricHerzog/perfowl/internal/chrometrace"
)

// correlationEntry pairs the launching CUDA runtime call with the kernels
// it produced, keyed by correlation id.
type correlationEntry struct {
	CudaAPI *chrometrace.ChromeTraceEvent
	Kernels []chrometrace.ChromeTraceEvent
}

func createFlowEvents(cudaAPIEvent, kernelEvent chrometrace.ChromeTraceEvent, correlationID int64) (start, finish chrometrace.ChromeTraceEvent) {
	start = chrometrace.ChromeTraceEvent{
		Name: cudaAPIEvent.Name,
		Ph:   chrometrace.PhaseFlowStart,
		Cat:  chrometrace.CatCudaFlow,
		Ts:   cudaAPIEvent.Ts,
		Pid:  cudaAPIEvent.Pid,
		Tid:  cudaAPIEvent.Tid,
		ID:   correlationID,
	}
	finish = chrometrace.ChromeTraceEvent{
		Name: kernelEvent.Name,
		Ph:   chrometrace.PhaseFlowEnd,
		Cat:  chrometrace.CatCudaFlow,
		Ts:   kernelEvent.Ts,
		Pid:  kernelEvent.Pid,
		Tid:  kernelEvent.Tid,
		ID:   correlationID,
		BP:   "e",
	}
	return start, finish
}

func groupEventsByDevice(
	nvtxEvents, cudaAPIEvents, kernelEvents []chrometrace.ChromeTraceEvent,
) (perDeviceNVTX, perDeviceCudaAPI, perDeviceKernels map[int64][]chrometrace.ChromeTraceEvent) {
	perDeviceNVTX = make(map[int64][]chrometrace.ChromeTraceEvent)
	perDeviceCudaAPI = make(map[int64][]chrometrace.ChromeTraceEvent)
	perDeviceKernels = make(map[int64][]chrometrace.ChromeTraceEvent)

	for _, e := range nvtxEvents {
		deviceID, ok := e.ArgInt("deviceId")
		if !ok {
			continue
		}
		if _, ok := e.ArgInt("start_ns"); !ok {
			continue
		}
		if _, ok := e.ArgInt("end_ns"); !ok {
			continue
		}
		perDeviceNVTX[deviceID] = append(perDeviceNVTX[deviceID], e)
	}
	for _, e := range cudaAPIEvents {
		deviceID, ok := e.ArgInt("deviceId")
		if !ok {
			continue
		}
		if _, ok := e.ArgInt("correlationId"); !ok {
			continue
		}
		perDeviceCudaAPI[deviceID] = append(perDeviceCudaAPI[deviceID], e)
	}
	for _, e := range kernelEvents {
		deviceID, ok := e.ArgInt("deviceId")
		if !ok {
			continue
		}
		if _, ok := e.ArgInt("correlationId"); !ok {
			continue
		}
		perDeviceKernels[deviceID] = append(perDeviceKernels[deviceID], e)
	}
	return perDeviceNVTX, perDeviceCudaAPI, perDeviceKernels
}

func buildCorrelationMapWithCudaAPI(
	cudaAPIEvents, kernelEvents []chrometrace.ChromeTraceEvent, adapter EventAdapter,
) map[int64]correlationEntry {
	kernelsByCorrelation := BuildCorrelationMap(kernelEvents, adapter)
	result := make(map[int64]correlationEntry)
	for i := range cudaAPIEvents {
		api := cudaAPIEvents[i]
		id, ok := adapter.GetCorrelationID(api)
		if !ok {
			continue
		}
		result[id] = correlationEntry{
			CudaAPI: &cudaAPIEvents[i],
			Kernels: kernelsByCorrelation[id],
		}
	}
	return result
}

func generateFlowEventsForCorrelationMap(correlationMap map[int64]correlationEntry) []chrometrace.ChromeTraceEvent {
	var flows []chrometrace.ChromeTraceEvent
	for id, entry := range correlationMap {
		if entry.CudaAPI == nil || len(entry.Kernels) == 0 {
			continue
		}
		for _, kernel := range entry.Kernels {
			start, finish := createFlowEvents(*entry.CudaAPI, kernel, id)
			flows = append(flows, start, finish)
		}
	}
	return flows
}

func createNVTXKernelEvent(
	nvtxEvent chrometrace.ChromeTraceEvent,
	kernelStartNs, kernelEndNs, deviceID int64,
	opts chrometrace.ConversionOptions,
) chrometrace.ChromeTraceEvent {
	rawTid, _ := nvtxEvent.ArgInt("raw_tid")
	event := chrometrace.ChromeTraceEvent{
		Name: nvtxEvent.Name,
		Ph:   chrometrace.PhaseComplete,
		Cat:  chrometrace.CatNVTXKernel,
		Ts:   chrometrace.NsToUs(kernelStartNs),
		Dur:  chrometrace.NsToUs(kernelEndNs - kernelStartNs),
		Pid:  chrometrace.DevicePid(deviceID),
		Tid:  fmt.Sprintf("NVTX Kernel Thread %d", rawTid),
	}
	if c := opts.ColorFor(nvtxEvent.Name); c != "" {
		event.CName = c
	}
	return event
}

// processDeviceNVTXEvents correlates one device's NVTX ranges, CUDA runtime
// calls, and kernels. Flow events are generated for every matched
// correlation id regardless of whether any NVTX range happened to overlap
// it — flow pairs are a property of the CUDA-API/kernel correlation alone.
func processDeviceNVTXEvents(
	nvtxEvents, cudaAPIEvents, kernelEvents []chrometrace.ChromeTraceEvent,
	deviceID int64,
	adapter EventAdapter,
	opts chrometrace.ConversionOptions,
) (nvtxKernelEvents []chrometrace.ChromeTraceEvent, mappedIdentifiers map[EventKey]bool, flowEvents []chrometrace.ChromeTraceEvent) {
	correlationMap := buildCorrelationMapWithCudaAPI(cudaAPIEvents, kernelEvents, adapter)
	flowEvents = generateFlowEventsForCorrelationMap(correlationMap)

	kernelsByCorrelation := BuildCorrelationMap(kernelEvents, adapter)
	mappedIdentifiers = make(map[EventKey]bool)

	for _, nvtxEvent := range nvtxEvents {
		overlapping := FindOverlappingIntervals([]chrometrace.ChromeTraceEvent{nvtxEvent}, cudaAPIEvents, adapter)
		matchedAPI := overlapping[adapter.GetEventID(nvtxEvent)]
		if len(matchedAPI) == 0 {
			continue
		}
		kernels := FindKernelsForAnnotation(matchedAPI, kernelsByCorrelation, adapter)
		if len(kernels) == 0 {
			continue
		}
		start, end, ok := AggregateKernelTimes(kernels, adapter)
		if !ok {
			continue
		}
		nvtxKernelEvents = append(nvtxKernelEvents, createNVTXKernelEvent(nvtxEvent, int64(start), int64(end), deviceID, opts))
		mappedIdentifiers[adapter.GetEventID(nvtxEvent)] = true
	}
	return nvtxKernelEvents, mappedIdentifiers, flowEvents
}

// LinkNVTXToKernels correlates NVTX push/pop ranges to the kernels their
// enclosed CUDA API calls launched, one device at a time. Returns the
// synthesized nvtx-kernel timeline spans, the set of NVTX event identities
// that were successfully promoted (for the CPU-side removal step), and the
// cuda_flow arrow pairs.
func LinkNVTXToKernels(
	nvtxEvents, cudaAPIEvents, kernelEvents []chrometrace.ChromeTraceEvent,
	opts chrometrace.ConversionOptions,
) (nvtxKernelEvents []chrometrace.ChromeTraceEvent, mappedIdentifiers map[EventKey]bool, flowEvents []chrometrace.ChromeTraceEvent) {
	adapter := NsysTraceEventAdapter{}
	perDeviceNVTX, perDeviceCudaAPI, perDeviceKernels := groupEventsByDevice(nvtxEvents, cudaAPIEvents, kernelEvents)

	mappedIdentifiers = make(map[EventKey]bool)
	for deviceID, deviceNVTX := range perDeviceNVTX {
		deviceKernels, ok := perDeviceKernels[deviceID]
		if !ok {
			continue
		}
		deviceCudaAPI := perDeviceCudaAPI[deviceID]
		kernelEventsOut, mapped, flows := processDeviceNVTXEvents(deviceNVTX, deviceCudaAPI, deviceKernels, deviceID, adapter, opts)
		nvtxKernelEvents = append(nvtxKernelEvents, kernelEventsOut...)
		flowEvents = append(flowEvents, flows...)
		for k := range mapped {
			mappedIdentifiers[k] = true
		}
	}
	return nvtxKernelEvents, mappedIdentifiers, flowEvents
}
