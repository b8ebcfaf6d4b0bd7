package relay

import (
	"errors"
	"sync"

	"whisperchat/pkg/logger"
	"whisperchat/pkg/models"
	"whisperchat/pkg/presence"
	"whisperchat/pkg/store"
	"whisperchat/pkg/telemetry"
)

// Pipeline applies the sent/delivered/read state machine to each valid
// inbound frame: route to the recipient if present, persist, advance
// status, echo to the sender. Store failures are logged and skipped; a
// failed persistence never disconnects a live chat.
type Pipeline struct {
	reg *presence.Registry
	wg  sync.WaitGroup
}

// NewPipeline builds a pipeline over the shared presence registry.
func NewPipeline(reg *presence.Registry) *Pipeline {
	return &Pipeline{reg: reg}
}

// Deliver processes one valid inbound frame from sender.
func (p *Pipeline) Deliver(sender, recipient, body string) {
	if _, err := store.FindUser(recipient); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Nothing is persisted for a nonexistent recipient; only the
			// sender hears about it.
			p.notify(sender, unknownRecipientNotice(recipient))
			return
		}
		logger.Error("recipient_lookup_failed", "sender", sender, "recipient", recipient, "error", err)
		return
	}

	full := sender + ": " + body

	relayed := false
	if h, ok := p.reg.Lookup(recipient); ok {
		if h.Enqueue(full) {
			relayed = true
			telemetry.MessagesRelayed.Inc()
		} else {
			telemetry.MessagesDropped.Inc()
			logger.Warn("recipient_queue_full", "sender", sender, "recipient", recipient)
		}
	}

	if _, err := store.SaveMessage(sender, recipient, body); err != nil {
		logger.Error("persist_message_failed", "sender", sender, "recipient", recipient, "error", err)
	}

	if relayed {
		// Reaching the recipient's queue is the delivery confirmation; the
		// bulk advance is an approximation, not a per-message ack.
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			n, err := store.AdvanceStatus(sender, recipient, models.StatusSent, models.StatusDelivered)
			if err != nil {
				logger.Error("advance_delivered_failed", "sender", sender, "recipient", recipient, "error", err)
				return
			}
			if n > 0 {
				telemetry.StatusTransitions.WithLabelValues(string(models.StatusSent), string(models.StatusDelivered)).Add(float64(n))
			}
		}()
	}

	// Echo so the sender observes their own sent message; a self-addressed
	// message was already enqueued above.
	if recipient != sender {
		p.notify(sender, full)
	}
}

// notify best-effort enqueues a payload to an identity's live session.
func (p *Pipeline) notify(identity, payload string) {
	h, ok := p.reg.Lookup(identity)
	if !ok {
		return
	}
	if !h.Enqueue(payload) {
		telemetry.MessagesDropped.Inc()
	}
}

// Flush waits for in-flight status advances. Used on shutdown and by
// tests asserting on stored status.
func (p *Pipeline) Flush() {
	p.wg.Wait()
}
