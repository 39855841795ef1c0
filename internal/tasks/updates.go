package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	FetchContainers Phase = iota
	ExportContainer
	WriteManifest
)

func (p Phase) String() string {
	switch p {
	case FetchContainers:
		return "fetch_containers"
	case ExportContainer:
		return "export_container"
	case WriteManifest:
		return "write_manifest"
	default:
		return ""
	}
}

// sendProgress sends an update without blocking; updates are dropped when the channel is full.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func fetchingContainersUpdate(category string, page int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchContainers,
		Step:    page,
		Message: fmt.Sprintf("Listing %s (page %d)...", category, page),
	}
}

func foundContainersUpdate(category string, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchContainers,
		Step:    total,
		Total:   total,
		Message: fmt.Sprintf("Found %d %s", total, category),
	}
}

func exportCompletedUpdate(step, total int, res ContainerResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportContainer,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d items)", step, total, res.Title, res.Items),
		Data:    res,
	}
}

func exportFailedUpdate(step, total int, res ContainerResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportContainer,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, res.Title, res.Error),
		Data:    res,
	}
}

func exportSkippedUpdate(step, total int, res ContainerResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportContainer,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] - %s skipped", step, total, res.Title),
		Data:    res,
	}
}

func manifestUpdate(path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteManifest,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Manifest written to %s", path),
	}
}
