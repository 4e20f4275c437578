package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Command parameter names, as used in the topic after TopicSet.
const (
	ParamFilterThreshold = "filter_threshold"
	ParamMaxDifference   = "max_difference"
	ParamMinRunTime      = "min_run_time"
	ParamMaxRunTime      = "max_run_time"
	ParamRepeatInterval  = "repeat_interval"
	ParamAddress         = "address"
	ParamRescan          = "rescan"
)

// Command is a parameter change received on a TopicSet subtopic.
type Command struct {
	Param string
	// Channel is the slot for ParamAddress; -1 otherwise.
	Channel int
	// Value is the trimmed payload. Empty clears an address.
	Value string
}

// Int parses Value as a decimal integer.
func (c Command) Int() (int64, error) {
	v, err := strconv.ParseInt(c.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", c.Param, err)
	}
	return v, nil
}

func (c Command) String() string {
	if c.Param == ParamAddress {
		return fmt.Sprintf("%s/%d=%q", c.Param, c.Channel, c.Value)
	}
	return fmt.Sprintf("%s=%q", c.Param, c.Value)
}

// ParseCommand decodes a message received on a TopicSet subtopic.
func ParseCommand(topic string, payload []byte) (Command, error) {
	rest, ok := strings.CutPrefix(topic, TopicSet+"/")
	if !ok {
		return Command{}, fmt.Errorf("not a command topic: %s", topic)
	}
	cmd := Command{Channel: -1, Value: strings.TrimSpace(string(payload))}
	parts := strings.Split(rest, "/")
	cmd.Param = parts[0]

	switch cmd.Param {
	case ParamFilterThreshold, ParamMaxDifference, ParamMinRunTime, ParamMaxRunTime, ParamRepeatInterval:
		if len(parts) != 1 {
			return Command{}, fmt.Errorf("unexpected subtopic: %s", topic)
		}
		if _, err := cmd.Int(); err != nil {
			return Command{}, err
		}
	case ParamRescan:
		if len(parts) != 1 {
			return Command{}, fmt.Errorf("unexpected subtopic: %s", topic)
		}
	case ParamAddress:
		if len(parts) != 2 {
			return Command{}, fmt.Errorf("address command needs a channel: %s", topic)
		}
		ch, err := strconv.Atoi(parts[1])
		if err != nil || ch < 0 {
			return Command{}, fmt.Errorf("invalid channel %q", parts[1])
		}
		cmd.Channel = ch
	default:
		return Command{}, fmt.Errorf("unknown parameter %q", cmd.Param)
	}
	return cmd, nil
}
