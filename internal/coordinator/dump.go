package coordinator

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/opencode-ai/sharesync/internal/keys"
	"github.com/opencode-ai/sharesync/pkg/types"
)

// dump builds the share_data read model from the stored entries. Info
// stays raw; messages are decoded so the part list can be attached
// under "parts", sorted by part id (part ids are ascending, so the
// sort order is creation order even when parts were re-published).
func (s *Session) dump() (*types.ShareData, error) {
	if s.record == nil {
		return nil, ErrNotFound
	}
	entries, err := s.store.ListEntries(s.name, keys.Prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	type partRec struct {
		id      string
		content json.RawMessage
	}
	data := &types.ShareData{Messages: map[string]map[string]any{}}
	parts := map[string][]partRec{}

	for _, entry := range entries {
		key, err := keys.Parse(entry.Key)
		if err != nil {
			// Stored keys were validated on publish; anything else is
			// a foreign write and not part of the read model.
			s.log.Warn().Str("key", entry.Key).Msg("skipping unparseable stored key")
			continue
		}
		switch key.Family {
		case keys.FamilyInfo:
			data.Info = entry.Content
		case keys.FamilyMessage:
			var msg map[string]any
			if err := json.Unmarshal(entry.Content, &msg); err != nil {
				s.log.Warn().Str("key", entry.Key).Err(err).Msg("skipping undecodable message")
				continue
			}
			data.Messages[key.MessageID] = msg
		case keys.FamilyPart:
			parts[key.MessageID] = append(parts[key.MessageID], partRec{key.PartID, entry.Content})
		}
	}

	for messageID, recs := range parts {
		sort.Slice(recs, func(i, j int) bool { return recs[i].id < recs[j].id })
		list := make([]any, len(recs))
		for i, rec := range recs {
			list[i] = rec.content
		}
		msg, ok := data.Messages[messageID]
		if !ok {
			msg = map[string]any{}
			data.Messages[messageID] = msg
		}
		msg["parts"] = list
	}
	for _, msg := range data.Messages {
		if _, ok := msg["parts"]; !ok {
			msg["parts"] = []any{}
		}
	}
	return data, nil
}
