package chat

import "erpchat/internal/protocol"

// Pager tracks backward pagination for one room. It never allows two fetches
// at once, and once the server reports no more pages it never fetches again.
type Pager struct {
	loaded   bool
	inFlight bool
	hasMore  bool
	cursor   int64
}

// BeginInitial claims the first (newest) page fetch.
func (p *Pager) BeginInitial() bool {
	if p.loaded || p.inFlight {
		return false
	}
	p.inFlight = true
	return true
}

// BeginOlder claims a fetch of the page before the cursor.
func (p *Pager) BeginOlder() (beforeID int64, ok bool) {
	if !p.loaded || p.inFlight || !p.hasMore || p.cursor <= 0 {
		return 0, false
	}
	p.inFlight = true
	return p.cursor, true
}

// Complete records a fetched page.
func (p *Pager) Complete(page protocol.HistoryPage) {
	p.inFlight = false
	p.loaded = true
	if page.NextCursor != nil {
		p.cursor = *page.NextCursor
	}
	p.hasMore = page.HasMore && page.NextCursor != nil
}

// Abort releases a fetch that failed. Nothing is retried automatically.
func (p *Pager) Abort() {
	p.inFlight = false
}

func (p *Pager) Loading() bool {
	return p.inFlight
}

// StartOfConversation is true once the oldest page has been loaded.
func (p *Pager) StartOfConversation() bool {
	return p.loaded && !p.hasMore
}

// NearTopThreshold is how close to the top, in rows, the viewport must be
// before older history is requested.
const NearTopThreshold = 2

// NearTop reports whether a viewport scrolled to offset should page back.
func NearTop(offset int) bool {
	return offset <= NearTopThreshold
}

// AnchorOffset keeps the same content under the viewport after rows are
// inserted above it. prevAbove and newAbove count the lines above a row
// present in both renders.
func AnchorOffset(prevAbove, prevOffset, newAbove int) int {
	offset := newAbove - prevAbove + prevOffset
	if offset < 0 {
		return 0
	}
	return offset
}
