package chatwoot

import (
	"encoding/json"
	"fmt"
)

// Chatwoot wraps list and entity responses differently across endpoints
// and versions: contact search returns {"payload": [...]}, conversation
// listings return {"data": {"payload": [...]}} or {"payload": [...]},
// and created entities come back bare, under "payload", or under
// {"payload": {"contact": {...}}}. The decode helpers try each known
// shape in a fixed fallback order so callers never branch on layout.

func decodeContactList(raw []byte) ([]Contact, error) {
	var env struct {
		Payload []Contact `json:"payload"`
		Data    *struct {
			Payload []Contact `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode contact list: %w", err)
	}
	if len(env.Payload) > 0 {
		return env.Payload, nil
	}
	if env.Data != nil {
		return env.Data.Payload, nil
	}
	return nil, nil
}

func decodeContact(raw []byte) (Contact, error) {
	var nested struct {
		Payload struct {
			Contact Contact `json:"contact"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Payload.Contact.ID != 0 {
		return nested.Payload.Contact, nil
	}

	var wrapped struct {
		Payload Contact `json:"payload"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Payload.ID != 0 {
		return wrapped.Payload, nil
	}

	var bare Contact
	if err := json.Unmarshal(raw, &bare); err != nil {
		return Contact{}, fmt.Errorf("decode contact: %w", err)
	}
	if bare.ID == 0 {
		return Contact{}, fmt.Errorf("decode contact: no contact in response")
	}
	return bare, nil
}

func decodeConversationList(raw []byte) ([]Conversation, error) {
	var env struct {
		Payload []Conversation `json:"payload"`
		Data    *struct {
			Payload []Conversation `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode conversation list: %w", err)
	}
	if len(env.Payload) > 0 {
		return env.Payload, nil
	}
	if env.Data != nil {
		return env.Data.Payload, nil
	}
	return nil, nil
}

func decodeConversation(raw []byte) (Conversation, error) {
	var bare Conversation
	if err := json.Unmarshal(raw, &bare); err == nil && bare.ID != 0 {
		return bare, nil
	}

	var wrapped struct {
		Payload Conversation `json:"payload"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	if wrapped.Payload.ID == 0 {
		return Conversation{}, fmt.Errorf("decode conversation: no conversation in response")
	}
	return wrapped.Payload, nil
}
