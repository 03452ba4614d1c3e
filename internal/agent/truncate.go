package agent

import (
	"github.com/vantagesec/vantage/internal/tokens"
)

// Token bounds on tool output. The client sees at most UIBound tokens; the
// model keeps up to ModelBound in its context. File reads use their own
// tighter bound with a chunking hint.
const (
	UIBound    = 2048
	ModelBound = 4096
	FileBound  = 3500
)

const (
	uiTruncationMarker    = "\n\n[output truncated for display]"
	modelTruncationMarker = "\n\n[output truncated: command produced more than the retained limit. " +
		"Re-run with more specific filters if you need the rest.]"
	fileTruncationMarker = "\n\n[file truncated: read the file in chunks using start_line/end_line.]"
)

// Truncator bounds tool output volume. It produces two views of the same
// output: a UI view and a model-context view, each capped independently
// with exactly one marker appended when its cap is exceeded.
type Truncator struct {
	clipper tokens.Clipper
}

// NewTruncator creates a truncator over the given token clipper.
func NewTruncator(clipper tokens.Clipper) *Truncator {
	return &Truncator{clipper: clipper}
}

// Split returns the UI-visible and model-context forms of a tool output.
func (t *Truncator) Split(output string) (ui, model string) {
	ui, cut := t.clipper.Clip(output, UIBound)
	if cut {
		ui += uiTruncationMarker
	}
	model, cut = t.clipper.Clip(output, ModelBound)
	if cut {
		model += modelTruncationMarker
	}
	return ui, model
}

// ClipFile bounds file-read output, steering the model toward ranged reads
// when the cap is hit.
func (t *Truncator) ClipFile(content string) string {
	clipped, cut := t.clipper.Clip(content, FileBound)
	if cut {
		clipped += fileTruncationMarker
	}
	return clipped
}

// Count exposes the underlying token count for callers that meter output.
func (t *Truncator) Count(text string) int {
	return t.clipper.Count(text)
}
