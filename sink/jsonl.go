package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Prismer-AI/rocketchat-bridge/realtime"
)

// JSONLines writes one JSON document per event.
type JSONLines struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w, enc: json.NewEncoder(w)}
}

func (j *JSONLines) Deliver(_ context.Context, ev realtime.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(ev); err != nil {
		return fmt.Errorf("write event %s: %w", ev.ID, err)
	}
	return nil
}

// Close closes the underlying writer if it is a closer.
func (j *JSONLines) Close() error {
	if c, ok := j.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
