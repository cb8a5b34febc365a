package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"liveroom/pkg/types"
)

// renderer prints what changed between snapshots
// TECHNICAL DISCOVERY: listeners fire on whichever goroutine mutated the
// container, so the printed state is guarded by its own lock
type renderer struct {
	mu   sync.Mutex
	out  io.Writer
	user *types.User

	status  types.MyStatus
	speaker string
	queue   string
	shown   map[string]types.DeliveryStatus
}

func newRenderer(out io.Writer, user *types.User) *renderer {
	return &renderer{
		out:    out,
		user:   user,
		status: types.StatusIdle,
		shown:  make(map[string]types.DeliveryStatus),
	}
}

func (r *renderer) render(snap *types.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.MyStatus != r.status {
		r.status = snap.MyStatus
		fmt.Fprintf(r.out, "* you are %s\n", snap.MyStatus)
	}

	speaker := ""
	if snap.CurrentSpeaker != nil {
		speaker = snap.CurrentSpeaker.DisplayName
	}
	if speaker != r.speaker {
		r.speaker = speaker
		if speaker == "" {
			fmt.Fprintln(r.out, "* nobody is speaking")
		} else {
			fmt.Fprintf(r.out, "* %s is speaking\n", speaker)
		}
	}

	if q := formatQueue(snap); q != r.queue {
		r.queue = q
		fmt.Fprintf(r.out, "* queue: %s\n", q)
	}

	for _, m := range snap.Messages {
		prev, seen := r.shown[m.ID]
		if seen && prev == m.DeliveryStatus {
			continue
		}
		r.shown[m.ID] = m.DeliveryStatus
		switch {
		case !seen:
			fmt.Fprintln(r.out, formatMessage(m))
		case m.DeliveryStatus == types.DeliveryFailed:
			fmt.Fprintf(r.out, "! not delivered: %s\n", m.Body)
		}
	}
}

func formatQueue(snap *types.Snapshot) string {
	waiting := waitingRecords(snap)
	if len(waiting) == 0 {
		return "empty"
	}
	parts := make([]string, len(waiting))
	for i, w := range waiting {
		parts[i] = fmt.Sprintf("%d.%s", i+1, w.DisplayName)
	}
	return strings.Join(parts, " ")
}

func formatMessage(m types.ChatMessage) string {
	var b strings.Builder
	b.WriteString(m.CreatedAt.Local().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(m.AuthorName)
	if m.AuthorRole.IsArbiter() {
		b.WriteString(" [" + string(m.AuthorRole) + "]")
	}
	if m.IsQuestion {
		b.WriteString(" asks")
	}
	b.WriteString(": ")
	b.WriteString(m.Body)
	if m.DeliveryStatus == types.DeliveryPending {
		b.WriteString(" (sending)")
	}
	return b.String()
}
