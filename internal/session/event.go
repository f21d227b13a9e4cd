package session

import "github.com/nextlevelbuilder/linescout/internal/source"

// Event is an input to the state machine. Transports translate their
// updates into one of Command, MenuSelection, FreeText or FileUpload.
type Event interface{ isEvent() }

// Command is a slash command. Name is lowercased without the slash.
type Command struct {
	Name string
	Args string
}

// MenuSelection is a tap on an inline menu button.
type MenuSelection struct {
	Token string
}

// FreeText is any non-command text message.
type FreeText struct {
	Text string
}

// FileUpload is a document the transport already stored locally.
type FileUpload struct {
	Name    string
	Locator source.Locator
}

func (Command) isEvent()       {}
func (MenuSelection) isEvent() {}
func (FreeText) isEvent()      {}
func (FileUpload) isEvent()    {}

// Outgoing is a message for the transport to deliver. Text bodies, menu
// prompts and captions are HTML.
type Outgoing interface{ isOutgoing() }

type Text struct {
	Body string
}

// Button is one inline menu button; Token comes back as a MenuSelection.
type Button struct {
	Label string
	Token string
}

type Menu struct {
	Prompt string
	Rows   [][]Button
}

type Document struct {
	Data     []byte
	Filename string
	Caption  string
}

func (Text) isOutgoing()     {}
func (Menu) isOutgoing()     {}
func (Document) isOutgoing() {}

// EventKind names an event for logs and metrics.
func EventKind(ev Event) string {
	switch ev.(type) {
	case Command:
		return "command"
	case MenuSelection:
		return "menu"
	case FreeText:
		return "text"
	case FileUpload:
		return "upload"
	default:
		return "unknown"
	}
}
