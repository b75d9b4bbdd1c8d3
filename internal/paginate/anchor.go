package paginate

// Viewport is the scroll surface reading from the store. The controller only
// needs enough of it to keep previously visible content pinned in place while
// older history is inserted above it.
type Viewport interface {
	ContentHeight() float64
	ScrollOffset() float64
	SetScrollOffset(float64)
}

// Anchor captures the viewport's visual reference point before a merge. The
// height delta is applied after the content update, not before - applying it
// early would anchor against a height that no longer exists.
type Anchor struct {
	height float64
	offset float64
	valid  bool
}

// CaptureAnchor snapshots the pre-merge content height and scroll offset.
func CaptureAnchor(v Viewport) Anchor {
	if v == nil {
		return Anchor{}
	}
	return Anchor{height: v.ContentHeight(), offset: v.ScrollOffset(), valid: true}
}

// Restore shifts the scroll offset by exactly the content-height delta, so the
// previously topmost visible message stays in the same screen position.
func (a Anchor) Restore(v Viewport) {
	if !a.valid || v == nil {
		return
	}
	v.SetScrollOffset(a.offset + (v.ContentHeight() - a.height))
}
