package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/mossy-p/call-signaling/internal/models"
)

// Archive persists room chat messages.
type Archive interface {
	AppendMessage(ctx context.Context, msg models.ChatMessage) error
}

// archiver writes messages to an Archive off the hub goroutine, in the
// order they were queued.
type archiver struct {
	archive Archive
	queue   chan models.ChatMessage
	logger  *slog.Logger
}

func newArchiver(a Archive, logger *slog.Logger) *archiver {
	return &archiver{
		archive: a,
		queue:   make(chan models.ChatMessage, 256),
		logger:  logger,
	}
}

// enqueue never blocks; a full queue drops the message.
func (a *archiver) enqueue(msg models.ChatMessage) {
	select {
	case a.queue <- msg:
	default:
		a.logger.Warn("archive queue full, dropping message", "roomID", msg.RoomID, "messageID", msg.ID)
	}
}

func (a *archiver) run(ctx context.Context) {
	for {
		select {
		case msg := <-a.queue:
			a.write(msg)
		case <-ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case msg := <-a.queue:
					a.write(msg)
				default:
					return
				}
			}
		}
	}
}

func (a *archiver) write(msg models.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.archive.AppendMessage(ctx, msg); err != nil {
		a.logger.Error("failed to archive message", "roomID", msg.RoomID, "messageID", msg.ID, "error", err)
	}
}
