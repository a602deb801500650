package twilio

import "context"

// StreamSID is a single-slot cell holding the stream correlation id. Readers
// take the value and give it back when done, so every sender sees it.
type StreamSID struct {
	slot chan string
}

func NewStreamSID() *StreamSID {
	return &StreamSID{slot: make(chan string, 1)}
}

// Set stores sid, replacing any previous value.
func (s *StreamSID) Set(sid string) {
	for {
		select {
		case s.slot <- sid:
			return
		default:
		}
		select {
		case <-s.slot:
		default:
		}
	}
}

// Take blocks until a value is present and removes it from the slot.
func (s *StreamSID) Take(ctx context.Context) (string, error) {
	select {
	case sid := <-s.slot:
		return sid, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Give puts a taken value back. It never blocks; if a newer value was Set in
// the meantime the newer one wins.
func (s *StreamSID) Give(sid string) {
	select {
	case s.slot <- sid:
	default:
	}
}

// Use runs fn with the current value and always gives it back.
func (s *StreamSID) Use(ctx context.Context, fn func(sid string) error) error {
	sid, err := s.Take(ctx)
	if err != nil {
		return err
	}
	defer s.Give(sid)
	return fn(sid)
}
