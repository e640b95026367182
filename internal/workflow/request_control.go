package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/mfateev/skillbroker/internal/chat"
)

// requestControl owns the inbound chat-event queue for one RequestWorkflow
// run. It holds nothing else; the handle-to-request map used to route
// secret replies (the pending-secret dialogue) lives in internal/pending.
//
// Grounded on the teacher's LoopControl/ResponseSlot pattern
// (internal/workflow/control.go), generalized from several typed single-
// value response slots feeding a multi-turn agent loop to a single FIFO
// queue of chat.Event feeding the approval state machine. A queue, not a
// single slot, is required here: spec §4.3's edge case ("multiple button
// clicks on the same prompt... subsequent clicks are acknowledged but
// ignored") only holds if every click is actually delivered to the
// workflow and evaluated in arrival order — a single overwrite-on-deliver
// slot could silently drop the first, winning click.
type requestControl struct {
	queue []chat.Event
}

// deliver enqueues an inbound chat event. Called from the signal-draining
// goroutine registered in RequestWorkflow.
func (c *requestControl) deliver(ev chat.Event) {
	c.queue = append(c.queue, ev)
}

// awaitEvent blocks until at least one chat event is queued, then pops and
// returns the oldest one.
func (c *requestControl) awaitEvent(ctx workflow.Context) (chat.Event, error) {
	if err := workflow.Await(ctx, func() bool { return len(c.queue) > 0 }); err != nil {
		return chat.Event{}, err
	}
	ev := c.queue[0]
	c.queue = c.queue[1:]
	return ev, nil
}
