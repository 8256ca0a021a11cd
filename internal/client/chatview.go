package client

import (
	"sort"

	"github.com/Ihnore-Ihor/PI-CMS/internal/models"
)

// ViewState is the lifecycle of one open chat's message view. Opening a chat
// starts a history fetch; pushes racing that fetch are queued, not shown.
type ViewState int

const (
	// ViewLoading: history requested, nothing pushed yet.
	ViewLoading ViewState = iota
	// ViewPendingMerge: history still in flight and at least one live push
	// is queued for merge.
	ViewPendingMerge
	// ViewReady: history merged; pushes append directly.
	ViewReady
)

// chatView reconciles a single chat's server-confirmed history with live
// pushes that arrive while the history fetch is in flight.
type chatView struct {
	chatID   int
	state    ViewState
	messages []models.Message
	pending  []models.Message
	seen     map[int]struct{}
}

func newChatView(chatID int) *chatView {
	return &chatView{
		chatID: chatID,
		state:  ViewLoading,
		seen:   make(map[int]struct{}),
	}
}

// push feeds one live message into the view. Before history arrives the
// message is queued; afterwards it is inserted directly. Duplicates by
// message id are dropped in both cases.
func (v *chatView) push(msg models.Message) {
	if _, dup := v.seen[msg.ID]; dup {
		return
	}
	v.seen[msg.ID] = struct{}{}

	if v.state == ViewReady {
		v.messages = append(v.messages, msg)
		v.sortMessages()
		return
	}
	v.pending = append(v.pending, msg)
	v.state = ViewPendingMerge
}

// applyHistory installs the server-confirmed history and merges the pending
// queue: only pending entries with a timestamp strictly greater than the last
// history entry survive — anything older is already covered by the fetch.
func (v *chatView) applyHistory(history []models.Message) {
	v.messages = v.messages[:0]
	v.seen = make(map[int]struct{}, len(history)+len(v.pending))
	for _, msg := range history {
		if _, dup := v.seen[msg.ID]; dup {
			continue
		}
		v.seen[msg.ID] = struct{}{}
		v.messages = append(v.messages, msg)
	}
	v.sortMessages()

	if len(v.pending) > 0 {
		var cutoff models.Message
		hasCutoff := len(v.messages) > 0
		if hasCutoff {
			cutoff = v.messages[len(v.messages)-1]
		}
		for _, msg := range v.pending {
			if _, dup := v.seen[msg.ID]; dup {
				continue
			}
			if hasCutoff && !msg.CreatedAt.After(cutoff.CreatedAt) {
				continue
			}
			v.seen[msg.ID] = struct{}{}
			v.messages = append(v.messages, msg)
		}
		v.pending = nil
		v.sortMessages()
	}
	v.state = ViewReady
}

func (v *chatView) sortMessages() {
	sort.SliceStable(v.messages, func(i, j int) bool {
		return v.messages[i].Before(v.messages[j])
	})
}

// snapshot returns a copy of the rendered message list.
func (v *chatView) snapshot() []models.Message {
	out := make([]models.Message, len(v.messages))
	copy(out, v.messages)
	return out
}
