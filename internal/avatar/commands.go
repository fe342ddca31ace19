package avatar

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCommand is returned for command names Dispatch does not know.
var ErrUnknownCommand = errors.New("unknown command")

// Commands is the intent sink handed to presentation adapters. Requests
// are asynchronous; their effect shows up in a later Snapshot.
type Commands interface {
	RequestPlay()
	RequestPause()
	RequestRewind(seconds float64)
	RequestMuteToggle()
	RequestReset()
	// RequestAvatarToggle swaps between the video and the still image.
	RequestAvatarToggle()
}

// Command names accepted on the wire.
const (
	CommandPlay   = "play"
	CommandPause  = "pause"
	CommandToggle = "toggle"
	CommandRewind = "rewind"
	CommandMute   = "mute"
	CommandReset  = "reset"
	CommandAvatar = "avatar"
)

// Command is a transport-neutral command.
type Command struct {
	Name    string  `json:"command"`
	Seconds float64 `json:"seconds,omitempty"`
}

// Dispatch forwards cmd to c.
func Dispatch(c Commands, cmd Command) error {
	switch strings.ToLower(cmd.Name) {
	case CommandPlay:
		c.RequestPlay()
	case CommandPause:
		c.RequestPause()
	case CommandRewind:
		if cmd.Seconds < 0 {
			return fmt.Errorf("rewind seconds must not be negative: %v", cmd.Seconds)
		}
		c.RequestRewind(cmd.Seconds)
	case CommandMute:
		c.RequestMuteToggle()
	case CommandReset:
		c.RequestReset()
	case CommandAvatar:
		c.RequestAvatarToggle()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	return nil
}
