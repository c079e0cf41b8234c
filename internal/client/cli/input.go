package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
)

// GetSimpleText prints a prompt to w and reads a single line of input from reader.
// The trailing newline is trimmed. If EOF occurs after some input was read,
// the partial line is returned.
func GetSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// GetMetadata prompts for "name=value" lines until an empty line and
// returns them unchanged.
func GetMetadata(reader *bufio.Reader, w io.Writer) ([]string, error) {
	fmt.Fprintln(w, "Enter metadata as name=value (caption, alt, title, description); empty line to finish")

	lines := make([]string, 0)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
		if err != nil {
			break
		}
	}
	return lines, nil
}

// ParseMetadata applies name=value lines on top of md. Names are case
// insensitive; unknown names are an error.
func ParseMetadata(md models.Metadata, lines []string) (models.Metadata, error) {
	for _, line := range lines {
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			return md, fmt.Errorf("malformed metadata %q, want name=value", line)
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "caption":
			md.Caption = value
		case "alt":
			md.Alt = value
		case "title":
			md.Title = value
		case "description":
			md.Description = value
		default:
			return md, fmt.Errorf("unknown metadata field %q", name)
		}
	}
	return md, nil
}

// ParseSize parses "WxH".
func ParseSize(s string) (models.Size, error) {
	var size models.Size
	if _, err := fmt.Sscanf(strings.ToLower(s), "%dx%d", &size.Width, &size.Height); err != nil || !size.Valid() {
		return models.Size{}, fmt.Errorf("invalid size %q, want WxH", s)
	}
	return size, nil
}
