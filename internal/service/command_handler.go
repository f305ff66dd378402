package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/alunegov/hmi-emu/internal/domain"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Command operations, also the last MQTT topic segment.
const (
	OpLoad  = "load"
	OpSave  = "save"
	OpFlags = "flags"
)

// CommandBus is the message transport the command handler listens on.
type CommandBus interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string)
	CommandTopic(op string) string
	PublishError(id, op, requestID string, cause error)
}

// LoadCommand is the payload of <prefix>/params/<id>/load. An empty payload
// loads with the specification kind.
type LoadCommand struct {
	Kind      json.RawMessage `json:"kind,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// SaveCommand is the payload of <prefix>/params/<id>/save. Value may be a
// JSON string or number; a payload that is not a JSON object is taken as
// the value text itself.
type SaveCommand struct {
	Value     json.RawMessage `json:"value"`
	Kind      json.RawMessage `json:"kind,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// FlagsCommand is the payload of <prefix>/params/<id>/flags.
type FlagsCommand struct {
	Flags     []bool `json:"flags"`
	RequestID string `json:"request_id,omitempty"`
}

// CommandHandler turns MQTT command messages into Commands calls and
// answers rejections on the parameter's error topic.
type CommandHandler struct {
	bus      CommandBus
	commands *Commands
	logger   zerolog.Logger
	topics   []string
	running  atomic.Bool
	received atomic.Uint64
}

// NewCommandHandler creates a handler; call Start to subscribe.
func NewCommandHandler(bus CommandBus, commands *Commands, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{
		bus:      bus,
		commands: commands,
		logger:   logger.With().Str("component", "command-handler").Logger(),
	}
}

// SubscribedTopics returns the topic filters the handler listens on.
func (h *CommandHandler) SubscribedTopics() []string {
	return []string{h.bus.CommandTopic(OpLoad), h.bus.CommandTopic(OpSave), h.bus.CommandTopic(OpFlags)}
}

// Start subscribes to the command topics.
func (h *CommandHandler) Start() error {
	if h.running.Load() {
		return nil
	}

	handlers := map[string]mqtt.MessageHandler{
		OpLoad:  h.handleLoad,
		OpSave:  h.handleSave,
		OpFlags: h.handleFlags,
	}
	h.topics = h.topics[:0]
	for _, op := range []string{OpLoad, OpSave, OpFlags} {
		topic := h.bus.CommandTopic(op)
		if err := h.bus.Subscribe(topic, handlers[op]); err != nil {
			h.bus.Unsubscribe(h.topics...)
			return err
		}
		h.topics = append(h.topics, topic)
	}

	h.running.Store(true)
	h.logger.Info().Strs("topics", h.topics).Msg("Command handler started")
	return nil
}

// Stop unsubscribes from the command topics.
func (h *CommandHandler) Stop() {
	if !h.running.Swap(false) {
		return
	}
	h.bus.Unsubscribe(h.topics...)
	h.logger.Info().Msg("Command handler stopped")
}

// Received returns the number of command messages seen.
func (h *CommandHandler) Received() uint64 {
	return h.received.Load()
}

func (h *CommandHandler) handleLoad(_ mqtt.Client, msg mqtt.Message) {
	h.received.Add(1)
	idText, id, err := paramIDFromTopic(msg.Topic())
	if err != nil {
		h.fail(idText, OpLoad, "", err)
		return
	}

	var cmd LoadCommand
	if len(strings.TrimSpace(string(msg.Payload()))) > 0 {
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			h.fail(idText, OpLoad, "", fmt.Errorf("%w: %v", domain.ErrInvalidValue, err))
			return
		}
	}
	if _, err := h.commands.Load(id, rawText(cmd.Kind), cmd.RequestID); err != nil {
		h.fail(idText, OpLoad, cmd.RequestID, err)
	}
}

func (h *CommandHandler) handleSave(_ mqtt.Client, msg mqtt.Message) {
	h.received.Add(1)
	idText, id, err := paramIDFromTopic(msg.Topic())
	if err != nil {
		h.fail(idText, OpSave, "", err)
		return
	}

	var cmd SaveCommand
	text := strings.TrimSpace(string(msg.Payload()))
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			h.fail(idText, OpSave, "", fmt.Errorf("%w: %v", domain.ErrInvalidValue, err))
			return
		}
		text = rawText(cmd.Value)
	} else if s, ok := jsonString(text); ok {
		text = s
	}

	if _, err := h.commands.Save(id, rawText(cmd.Kind), text, cmd.RequestID); err != nil {
		h.fail(idText, OpSave, cmd.RequestID, err)
	}
}

func (h *CommandHandler) handleFlags(_ mqtt.Client, msg mqtt.Message) {
	h.received.Add(1)
	idText, id, err := paramIDFromTopic(msg.Topic())
	if err != nil {
		h.fail(idText, OpFlags, "", err)
		return
	}

	var cmd FlagsCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		h.fail(idText, OpFlags, "", fmt.Errorf("%w: %v", domain.ErrInvalidValue, err))
		return
	}
	var bits domain.Bits
	if len(cmd.Flags) != len(bits) {
		h.fail(idText, OpFlags, cmd.RequestID,
			fmt.Errorf("%w: want %d flags, got %d", domain.ErrInvalidValue, len(bits), len(cmd.Flags)))
		return
	}
	copy(bits[:], cmd.Flags)

	if _, err := h.commands.SetFlags(id, bits, cmd.RequestID); err != nil {
		h.fail(idText, OpFlags, cmd.RequestID, err)
	}
}

func (h *CommandHandler) fail(id, op, requestID string, err error) {
	h.logger.Warn().Err(err).Str("op", op).Str("param", id).Msg("Command rejected")
	h.bus.PublishError(id, op, requestID, err)
}

// paramIDFromTopic extracts the id from <prefix>/params/<id>/<op>.
func paramIDFromTopic(topic string) (string, uint32, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return "", 0, fmt.Errorf("%w: topic %q", domain.ErrInvalidParameterID, topic)
	}
	idText := parts[len(parts)-2]
	id, err := strconv.ParseUint(idText, 10, 32)
	if err != nil {
		return idText, 0, fmt.Errorf("%w: %q", domain.ErrInvalidParameterID, idText)
	}
	return idText, uint32(id), nil
}

// rawText returns a JSON string's content, or any other JSON literal as
// written.
func rawText(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if s, ok := jsonString(text); ok {
		return s
	}
	if text == "null" {
		return ""
	}
	return text
}

func jsonString(text string) (string, bool) {
	if !strings.HasPrefix(text, `"`) {
		return "", false
	}
	var s string
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return "", false
	}
	return s, true
}
