package models

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type EventType `json:"type"`
}

// DecodeEvent decodes one data payload into its tagged variant. It fails only
// when the payload is not a JSON object of the expected shape; unrecognised
// discriminants decode to UnknownEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}

	switch env.Type {
	case EventStatus:
		return decodeAs[StatusEvent](data)
	case EventHeartbeat:
		return decodeAs[HeartbeatEvent](data)
	case EventChunk:
		return decodeAs[ChunkEvent](data)
	case EventCitation:
		return decodeAs[CitationEvent](data)
	case EventProgress:
		return decodeAs[ProgressEvent](data)
	case EventRetrievedDocuments:
		return decodeAs[RetrievedDocumentsEvent](data)
	case EventAnswerDelta:
		return decodeAs[AnswerDeltaEvent](data)
	case EventAnswerComplete:
		return decodeAs[AnswerCompleteEvent](data)
	case EventReferences:
		return decodeAs[ReferencesEvent](data)
	case EventDone:
		return decodeAs[DoneEvent](data)
	case EventError:
		return decodeAs[ErrorEvent](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownEvent{Name: string(env.Type), Raw: raw}, nil
	}
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", ev.Type(), err)
	}
	return ev, nil
}
