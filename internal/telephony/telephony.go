package telephony

import (
	"context"

	"github.com/rs/zerolog"
)

// Dialer places and tears down call legs on the telephony provider.
type Dialer interface {
	// Dial places an outbound call into the given room and returns the
	// provider's participant identity for the new leg.
	Dial(ctx context.Context, roomName, phoneNumber string) (string, error)
	// Bridge joins an agent's leg into the session's room.
	Bridge(ctx context.Context, roomName, agentID string) error
	// Hangup removes a participant from the room.
	Hangup(ctx context.Context, roomName, participant string) error
}

// Conversation controls the AI voice pipeline attached to a room.
type Conversation interface {
	// Start attaches the AI agent to the room.
	Start(ctx context.Context, roomName string) error
	// Stop detaches the AI agent from the room.
	Stop(ctx context.Context, roomName string) error
}

// LogDialer is a Dialer that only logs. Used in development and tests
// where no telephony provider is attached.
type LogDialer struct {
	logger zerolog.Logger
}

// NewLogDialer creates a logging-only dialer.
func NewLogDialer(logger zerolog.Logger) *LogDialer {
	return &LogDialer{logger: logger}
}

func (d *LogDialer) Dial(ctx context.Context, roomName, phoneNumber string) (string, error) {
	d.logger.Info().Str("room", roomName).Str("phone", phoneNumber).Msg("dial (noop)")
	return "sip-" + phoneNumber, nil
}

func (d *LogDialer) Bridge(ctx context.Context, roomName, agentID string) error {
	d.logger.Info().Str("room", roomName).Str("agent_id", agentID).Msg("bridge (noop)")
	return nil
}

func (d *LogDialer) Hangup(ctx context.Context, roomName, participant string) error {
	d.logger.Info().Str("room", roomName).Str("participant", participant).Msg("hangup (noop)")
	return nil
}

// LogConversation is a Conversation that only logs.
type LogConversation struct {
	logger zerolog.Logger
}

// NewLogConversation creates a logging-only conversation controller.
func NewLogConversation(logger zerolog.Logger) *LogConversation {
	return &LogConversation{logger: logger}
}

func (c *LogConversation) Start(ctx context.Context, roomName string) error {
	c.logger.Info().Str("room", roomName).Msg("ai conversation start (noop)")
	return nil
}

func (c *LogConversation) Stop(ctx context.Context, roomName string) error {
	c.logger.Info().Str("room", roomName).Msg("ai conversation stop (noop)")
	return nil
}
