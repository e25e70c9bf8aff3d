package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/rueidis"
)

const (
	// DefaultStreamKey is the Redis stream carrying dispatcher signals.
	DefaultStreamKey = "booking:outbox:signals"
	// DefaultGroup is the consumer group shared by dispatcher processes.
	DefaultGroup = "dispatchers"

	streamMaxLen     = "1000"
	readCount        = 16
	blockTimeout     = 1000 // milliseconds
	errorRetryDelay  = time.Second
	busyGroupErrText = "BUSYGROUP"
)

// Stream publishes and consumes signals on a Redis stream through a consumer group,
// so each signal is handled by exactly one dispatcher process.
type Stream struct {
	client   rueidis.Client
	key      string
	group    string
	consumer string
}

func NewStream(client rueidis.Client, key, group, consumer string) *Stream {
	if key == "" {
		key = DefaultStreamKey
	}

	if group == "" {
		group = DefaultGroup
	}

	return &Stream{client: client, key: key, group: group, consumer: consumer}
}

// Publish appends a signal, trimming the stream to roughly the last thousand entries.
func (s *Stream) Publish(ctx context.Context, sig Signal) error {
	cmd := s.client.B().Xadd().Key(s.key).
		Maxlen().Almost().Threshold(streamMaxLen).
		Id("*").
		FieldValue().FieldValue("kind", string(sig.Kind)).
		FieldValue("calendar_id", sig.CalendarID).
		Build()

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to publish signal to %s: %w", s.key, err)
	}

	return nil
}

// EnsureGroup creates the consumer group. An existing group is not an error.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	cmd := s.client.B().XgroupCreate().Key(s.key).Group(s.group).Id("$").Mkstream().Build()

	err := s.client.Do(ctx, cmd).Error()
	if err != nil && !strings.Contains(err.Error(), busyGroupErrText) {
		return fmt.Errorf("failed to create consumer group %s: %w", s.group, err)
	}

	return nil
}

// Listen blocks reading the stream and acknowledges each entry after h returns.
func (s *Stream) Listen(ctx context.Context, h Handler) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}

	slog.Info("listening for dispatcher signals",
		slog.String("stream", s.key),
		slog.String("group", s.group),
		slog.String("consumer", s.consumer),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.consume(ctx, h); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			slog.Error("error consuming dispatcher signals", slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errorRetryDelay):
			}
		}
	}
}

func (s *Stream) consume(ctx context.Context, h Handler) error {
	cmd := s.client.B().Xreadgroup().Group(s.group, s.consumer).
		Count(readCount).
		Block(blockTimeout).
		Streams().
		Key(s.key).
		Id(">").
		Build()

	result := s.client.Do(ctx, cmd)
	if err := result.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil
		}

		return err
	}

	streams, err := result.AsXRead()
	if err != nil {
		return err
	}

	for _, entries := range streams {
		for _, entry := range entries {
			h(ctx, decode(entry.FieldValues))
			s.ack(ctx, entry.ID)
		}
	}

	return nil
}

func (s *Stream) ack(ctx context.Context, id string) {
	cmd := s.client.B().Xack().Key(s.key).Group(s.group).Id(id).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		slog.Error("failed to ACK signal", slog.String("message_id", id), slog.String("error", err.Error()))
	}
}

func decode(fields map[string]string) Signal {
	sig := Signal{Kind: Kind(fields["kind"]), CalendarID: fields["calendar_id"]}
	if sig.Kind != KindForce {
		sig.Kind = KindMutation
	}

	return sig
}
