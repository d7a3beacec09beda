// Package client implements the interactive relay client: login, printing
// and saving incoming messages, and turning typed lines into messages.
package client

import "strings"

// CommandKind identifies what a typed line asks the client to do.
type CommandKind int

const (
	// CommandText sends the line as a text message.
	CommandText CommandKind = iota
	// CommandFile sends a file by path.
	CommandFile
	// CommandImage sends an image by path, converted to PNG.
	CommandImage
	// CommandQuit ends the session.
	CommandQuit
)

// Command is a parsed input line.
type Command struct {
	Kind CommandKind
	// Arg is the text for CommandText and the path for file and image
	// commands.
	Arg string
}

// ParseCommand interprets one input line. ".quit" must stand alone;
// ".file" and ".image" take the rest of the line as a path. Everything
// else is text.
func ParseCommand(line string) Command {
	name, rest, _ := strings.Cut(line+" ", " ")
	switch {
	case name == ".quit" && rest == "":
		return Command{Kind: CommandQuit}
	case name == ".file":
		return Command{Kind: CommandFile, Arg: strings.TrimSpace(rest)}
	case name == ".image":
		return Command{Kind: CommandImage, Arg: strings.TrimSpace(rest)}
	default:
		return Command{Kind: CommandText, Arg: line}
	}
}
