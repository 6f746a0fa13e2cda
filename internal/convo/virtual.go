package convo

import (
	"context"
	"fmt"

	"github.com/mattn/go-runewidth"
)

// defaultEstimatedHeight is the initial rendered-height guess for a
// message outside the loaded window, before any real measurement exists
// (spec §4.5: "initial estimate 15 rows").
const defaultEstimatedHeight = 15

// entry is one slot of the virtualization state: either a fully loaded
// message body, or — outside the window — just enough to keep local
// indices, ids and scroll math stable.
type entry struct {
	messageID      int64
	estimatedHeight float64
	measurements    int // how many real height samples fed estimatedHeight's running mean
	loaded          bool
	msg             Message
}

// View is a bounded in-memory window over one conversation's message
// history (spec §4.5, C9). It never holds the full history in memory;
// outside [loadedStart, loadedEnd) only ids and height estimates survive,
// and the store is consulted again on scroll.
type View struct {
	store      *Store
	sessionKey string

	entries []entry // local index 0..len-1 maps onto absolute message_id order
	loadedStart, loadedEnd int // [loadedStart, loadedEnd) within entries is materialized

	streamingIdx int // local index currently being streamed into, -1 if none; protected from eviction
	targetLoaded int // window size to materialize around a scroll target
}

// NewView builds a view over sessionKey with targetLoaded as the default
// window size maintained around the visible area.
func NewView(store *Store, sessionKey string, targetLoaded int) *View {
	if targetLoaded <= 0 {
		targetLoaded = 200
	}
	return &View{
		store:        store,
		sessionKey:   sessionKey,
		targetLoaded: targetLoaded,
		streamingIdx: -1,
	}
}

// Append adds a freshly created message to both the database and the
// loaded tail of the view, returning its assigned message_id.
func (v *View) Append(ctx context.Context, msg Message) (int64, error) {
	id, err := v.store.AppendConversationMessage(ctx, v.sessionKey, msg)
	if err != nil {
		return 0, err
	}
	msg.MessageID = id
	msg.SessionKey = v.sessionKey
	v.entries = append(v.entries, entry{
		messageID:       id,
		estimatedHeight: estimateHeight(msg.Content),
		measurements:    1,
		loaded:          true,
		msg:             msg,
	})
	v.loadedEnd = len(v.entries)
	return id, nil
}

// BeginStreaming marks the just-appended message (local index len-1) as
// the streaming target, protecting it from eviction until EndStreaming.
func (v *View) BeginStreaming() {
	if len(v.entries) == 0 {
		return
	}
	v.streamingIdx = len(v.entries) - 1
}

// UpdateStreaming rewrites the content of the message under active
// streaming and refreshes its height estimate.
func (v *View) UpdateStreaming(content string) {
	if v.streamingIdx < 0 || v.streamingIdx >= len(v.entries) {
		return
	}
	e := &v.entries[v.streamingIdx]
	e.msg.Content = content
	v.recordHeight(e, content)
}

// EndStreaming releases the eviction guard placed by BeginStreaming.
func (v *View) EndStreaming() {
	v.streamingIdx = -1
}

func (v *View) recordHeight(e *entry, content string) {
	h := estimateHeight(content)
	e.measurements++
	e.estimatedHeight += (h - e.estimatedHeight) / float64(e.measurements)
}

// estimateHeight approximates rendered terminal rows for content using
// display width (go-runewidth accounts for wide/zero-width runes) against
// an assumed 80-column viewport, plus one row per explicit newline.
func estimateHeight(content string) float64 {
	if content == "" {
		return 1
	}
	const assumedWidth = 80
	rows := 0
	lineWidth := 0
	for _, r := range content {
		if r == '\n' {
			rows++
			lineWidth = 0
			continue
		}
		w := runewidth.RuneWidth(r)
		lineWidth += w
		if lineWidth > assumedWidth {
			rows++
			lineWidth = w
		}
	}
	rows++ // the line in progress
	return float64(rows)
}

// Len returns the total number of messages in the conversation, loaded
// or not.
func (v *View) Len() int { return len(v.entries) }

// EstimatedHeight returns the best-known rendered height for the message
// at local index i, whether or not it is currently loaded.
func (v *View) EstimatedHeight(i int) float64 {
	if i < 0 || i >= len(v.entries) {
		return 0
	}
	return v.entries[i].estimatedHeight
}

// MessageID returns the stable id of the message at local index i (spec
// §4.5 invariant: ids survive eviction and reload unchanged).
func (v *View) MessageID(i int) (int64, bool) {
	if i < 0 || i >= len(v.entries) {
		return 0, false
	}
	return v.entries[i].messageID, true
}

// At returns the loaded message at local index i. ok is false if that
// index is currently outside the loaded window.
func (v *View) At(i int) (Message, bool) {
	if i < 0 || i >= len(v.entries) {
		return Message{}, false
	}
	e := v.entries[i]
	return e.msg, e.loaded
}

// ScrollTo reloads a window of size targetLoaded centered on local index
// center, evicting message bodies that fall outside the new window
// (except the index under active streaming, which is never evicted).
func (v *View) ScrollTo(ctx context.Context, center int) error {
	if center < 0 || center >= len(v.entries) {
		return fmt.Errorf("convo: scroll target %d out of range [0,%d)", center, len(v.entries))
	}

	half := v.targetLoaded / 2
	start := center - half
	if start < 0 {
		start = 0
	}
	end := start + v.targetLoaded
	if end > len(v.entries) {
		end = len(v.entries)
		start = end - v.targetLoaded
		if start < 0 {
			start = 0
		}
	}

	v.evict(0, start)
	v.evict(end, len(v.entries))

	if err := v.loadWindow(ctx, start, end); err != nil {
		return err
	}
	v.loadedStart, v.loadedEnd = start, end
	return nil
}

// evict discards message bodies for local indices in [from, to), keeping
// id and height estimate. The streaming index is always skipped.
func (v *View) evict(from, to int) {
	for i := from; i < to && i < len(v.entries); i++ {
		if i == v.streamingIdx {
			continue
		}
		e := &v.entries[i]
		if !e.loaded {
			continue
		}
		e.msg.Content = ""
		e.msg.Thinking = ""
		e.loaded = false
	}
}

// loadWindow fetches message bodies for any unloaded index in [from, to)
// from the database, by message_id range, and splices them back in
// without disturbing message_id, role ordering, or timestamps (spec §4.5
// invariant 8).
func (v *View) loadWindow(ctx context.Context, from, to int) error {
	if from >= to || to > len(v.entries) {
		return nil
	}
	var need []int
	for i := from; i < to; i++ {
		if !v.entries[i].loaded {
			need = append(need, i)
		}
	}
	if len(need) == 0 {
		return nil
	}

	fromID := v.entries[need[0]].messageID
	toID := v.entries[need[len(need)-1]].messageID + 1
	msgs, err := v.store.LoadRange(ctx, v.sessionKey, fromID, toID)
	if err != nil {
		return err
	}
	byID := make(map[int64]Message, len(msgs))
	for _, m := range msgs {
		byID[m.MessageID] = m
	}
	for _, i := range need {
		id := v.entries[i].messageID
		if m, ok := byID[id]; ok {
			v.entries[i].msg = m
			v.entries[i].loaded = true
		}
	}
	return nil
}

// Hydrate loads the full id/height skeleton for sessionKey from the
// database (without materializing bodies), then loads the trailing
// window of size targetLoaded — the state a freshly attached view starts
// from when reopening an existing conversation.
func (v *View) Hydrate(ctx context.Context) error {
	n, err := v.store.MessageCount(ctx, v.sessionKey)
	if err != nil {
		return err
	}
	v.entries = make([]entry, 0, n)
	if n == 0 {
		return nil
	}

	msgs, err := v.store.LoadRange(ctx, v.sessionKey, 0, n)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		v.entries = append(v.entries, entry{
			messageID:       m.MessageID,
			estimatedHeight: defaultEstimatedHeight,
			loaded:          false,
			msg:             Message{MessageID: m.MessageID, SessionKey: v.sessionKey, Role: m.Role},
		})
	}

	start := len(v.entries) - v.targetLoaded
	if start < 0 {
		start = 0
	}
	if err := v.loadWindow(ctx, start, len(v.entries)); err != nil {
		return err
	}
	v.loadedStart, v.loadedEnd = start, len(v.entries)
	return nil
}
