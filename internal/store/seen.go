package store

import (
	"time"

	"whispr/client/internal/models"
)

// MarkOutboundSeen applies an inbound seen event: every message in the recent
// bucket sent by senderID (the local user) that is still unseen gets marked
// with the single shared timestamp. This is a read-cursor batch, not a
// per-message acknowledgment. Seen state is monotonic: already-seen messages
// keep their original timestamp. Returns how many messages changed.
func (s *MessageStore) MarkOutboundSeen(chatID, senderID string, ts time.Time) int {
	return s.markSeen(chatID, ts, func(m models.Message) bool {
		return m.SenderID == senderID
	})
}

// MarkInboundSeen marks the other participant's unseen recent messages as read
// locally, with one shared timestamp, before the read receipt is synced to the
// server. Returns how many messages changed; zero means no receipt is needed.
func (s *MessageStore) MarkInboundSeen(chatID, localUserID string, ts time.Time) int {
	return s.markSeen(chatID, ts, func(m models.Message) bool {
		return m.SenderID != localUserID
	})
}

// UnseenInbound counts the other participant's recent messages not yet marked
// seen. Callers use it to decide whether a read receipt is due before touching
// anything.
func (s *MessageStore) UnseenInbound(chatID, localUserID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return 0
	}
	n := 0
	for i := range e.recent {
		if !e.recent[i].Seen && e.recent[i].SenderID != localUserID {
			n++
		}
	}
	return n
}

func (s *MessageStore) markSeen(chatID string, ts time.Time, match func(models.Message) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return 0
	}
	changed := 0
	for i := range e.recent {
		if e.recent[i].Seen || !match(e.recent[i]) {
			continue
		}
		stamp := ts
		e.recent[i].Seen = true
		e.recent[i].SeenTimestamp = &stamp
		changed++
	}
	if changed > 0 {
		s.version++
	}
	return changed
}

// SeenIndicatorTarget computes where the "Seen" indicator belongs for the local
// user's outbound messages: the most recent seen outbound message, but only if
// every message after it, up to the first unseen outbound message, was also
// sent by the local user. The indicator must never appear in front of an unseen
// gap. Purely derived; nothing is stored.
func (s *MessageStore) SeenIndicatorTarget(chatID, localUserID string) (models.Message, bool) {
	all := s.Flatten(chatID)

	lastSeenIdx := -1
	firstUnseenIdx := -1
	for i, m := range all {
		if m.SenderID != localUserID {
			continue
		}
		if m.Seen {
			lastSeenIdx = i
		} else if firstUnseenIdx == -1 {
			firstUnseenIdx = i
		}
	}
	if lastSeenIdx == -1 {
		return models.Message{}, false
	}
	if firstUnseenIdx != -1 && lastSeenIdx > firstUnseenIdx {
		return models.Message{}, false
	}

	end := len(all)
	if firstUnseenIdx != -1 {
		end = firstUnseenIdx
	}
	for i := lastSeenIdx + 1; i < end; i++ {
		if all[i].SenderID != localUserID {
			return models.Message{}, false
		}
	}
	return all[lastSeenIdx], true
}
