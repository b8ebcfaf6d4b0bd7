package relay

import (
	"whisperchat/pkg/logger"
	"whisperchat/pkg/models"
	"whisperchat/pkg/store"
	"whisperchat/pkg/telemetry"
)

// replayHistory streams the bounded conversation transcript for a
// connecting identity through emit, one line per frame. It runs before the
// session is registered in presence and before the live loops start, so no
// live message can interleave.
//
// Partners are visited in ascending order of their internal user id. Per
// pair, the newest `limit` messages are emitted oldest-first, and pending
// delivered messages from that partner are advanced to read: "read" means
// the recipient's client has replayed the conversation.
//
// Store failures are logged and skipped; only an emit (transport) failure
// aborts the replay.
func replayHistory(identity string, limit int, emit func(string) error) error {
	partners, err := store.DistinctPartners(identity)
	if err != nil {
		logger.Error("partner_resolution_failed", "identity", identity, "error", err)
		return nil
	}
	if len(partners) == 0 {
		return nil
	}

	if err := emit(historyStartMarker); err != nil {
		return err
	}
	for _, partner := range partners {
		if err := emit(conversationMarker(partner.Name)); err != nil {
			return err
		}
		msgs, err := store.RecentMessages(identity, partner.Name, limit)
		if err != nil {
			logger.Error("history_fetch_failed", "identity", identity, "partner", partner.Name, "error", err)
			continue
		}
		n, err := store.AdvanceStatus(partner.Name, identity, models.StatusDelivered, models.StatusRead)
		if err != nil {
			logger.Error("advance_read_failed", "identity", identity, "partner", partner.Name, "error", err)
		} else if n > 0 {
			telemetry.StatusTransitions.WithLabelValues(string(models.StatusDelivered), string(models.StatusRead)).Add(float64(n))
		}
		for _, m := range msgs {
			if err := emit(m.Line()); err != nil {
				return err
			}
		}
	}
	if err := emit(historyEndMarker); err != nil {
		return err
	}
	telemetry.HistoryReplays.Inc()
	return nil
}
