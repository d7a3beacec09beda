package client_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/gorelay/internal/client"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want client.Command
	}{
		{"this is a text", client.Command{Kind: client.CommandText, Arg: "this is a text"}},
		{".file test.txt", client.Command{Kind: client.CommandFile, Arg: "test.txt"}},
		{".file   spaced name.txt ", client.Command{Kind: client.CommandFile, Arg: "spaced name.txt"}},
		{".image test.jpg", client.Command{Kind: client.CommandImage, Arg: "test.jpg"}},
		{".quit", client.Command{Kind: client.CommandQuit}},
		{".quit  ", client.Command{Kind: client.CommandText, Arg: ".quit  "}},
		{".quit now", client.Command{Kind: client.CommandText, Arg: ".quit now"}},
		{".files x", client.Command{Kind: client.CommandText, Arg: ".files x"}},
		{"", client.Command{Kind: client.CommandText, Arg: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, client.ParseCommand(tt.line))
		})
	}
}

func TestBasename(t *testing.T) {
	tests := map[string]string{
		"a/b/c.txt":           "c.txt",
		"c.txt":               "c.txt",
		"../../etc/passwd":    "passwd",
		`..\..\windows\x.ini`: "x.ini",
		"":                    "unknown.bin",
		"..":                  "unknown.bin",
		"/":                   "unknown.bin",
		"///":                 "unknown.bin",
		`\`:                   "unknown.bin",
	}
	for in, want := range tests {
		assert.Equal(t, want, client.Basename(in), "Basename(%q)", in)
	}
}
