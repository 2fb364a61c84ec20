package agentforce

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nto-labs/agentforce-portal/internal/domain"
	"github.com/nto-labs/agentforce-portal/internal/store"
)

// dataPrefix marks significant lines in the event stream.
const dataPrefix = "data: "

// dispatcher consumes one turn's event stream: it decodes a JSON event per
// "data: " line and routes each typed payload to the registered callbacks.
type dispatcher struct {
	agentID string
	repo    store.Repository
	cb      Callbacks

	// validationFailed latches after a ValidationFailureChunk and suppresses
	// further TextChunk callbacks for the rest of the turn.
	validationFailed bool

	ctx context.Context
	now func() time.Time
}

func newDispatcher(agentID string, repo store.Repository, cb Callbacks) *dispatcher {
	return &dispatcher{agentID: agentID, repo: repo, cb: cb, now: time.Now}
}

// run reads the stream until completion. A malformed event line is logged
// and skipped; an underlying read failure fires the error callback once and
// fails the turn.
func (d *dispatcher) run(ctx context.Context, body io.Reader) error {
	d.ctx = ctx
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			d.emitError("stream cancelled")
			return err
		}
		d.handleLine(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		d.emitError(err.Error())
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

func (d *dispatcher) handleLine(line string) {
	if !strings.HasPrefix(line, dataPrefix) {
		return
	}
	data := strings.TrimSpace(line[len(dataPrefix):])
	if data == "" {
		return
	}

	var event StreamingEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		slog.Warn("skipping malformed stream event", "agent_id", d.agentID, "error", err)
		return
	}

	d.dispatch(event)
}

func (d *dispatcher) dispatch(event StreamingEvent) {
	msg := event.Message
	switch msg.Type {
	case EventProgressIndicator:
		text := msg.Message
		if text == "" {
			text = defaultProgressText
		}
		if d.cb.OnProgress != nil {
			d.cb.OnProgress(text)
		}

	case EventTextChunk:
		if d.validationFailed {
			return
		}
		if d.cb.OnTextChunk != nil {
			d.cb.OnTextChunk(msg.Message, msg.Offset)
		}

	case EventValidationFailureChunk:
		d.validationFailed = true
		if d.cb.OnValidationFailure != nil {
			d.cb.OnValidationFailure()
		}
		// The failing chunk itself still reaches the text callback once.
		if d.cb.OnTextChunk != nil {
			d.cb.OnTextChunk(msg.Message, msg.Offset)
		}

	case EventInform, EventInquire:
		if msg.Message == "" {
			return
		}
		d.finalizeMessage(msg)

	case EventEndOfTurn:
		if d.cb.OnEndOfTurn != nil {
			d.cb.OnEndOfTurn()
		}

	case EventError, EventFailure:
		text := msg.Message
		if text == "" {
			text = "An error occurred"
		}
		d.emitError(text)

	default:
		slog.Debug("unhandled stream event type", "type", msg.Type, "agent_id", d.agentID)
	}
}

// finalizeMessage persists an agent message and notifies the caller. The
// store drops duplicate IDs, so redelivered events are harmless.
func (d *dispatcher) finalizeMessage(msg StreamingMessage) {
	final := domain.ChatMessage{
		ID:          msg.ID,
		Content:     msg.Message,
		IsUser:      false,
		Timestamp:   d.now().UTC(),
		ToolOutputs: msg.Result,
	}

	if err := d.repo.AppendMessage(d.ctx, d.agentID, &final); err != nil {
		slog.Warn("failed to persist agent message", "agent_id", d.agentID, "message_id", final.ID, "error", err)
	}

	if d.cb.OnInform != nil {
		d.cb.OnInform(final)
	}
}

func (d *dispatcher) emitError(text string) {
	if d.cb.OnError != nil {
		d.cb.OnError(text)
	}
}
