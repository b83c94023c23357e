package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const replHelp = `Commands:
  /upload <path>  upload a document (clears the conversation)
  /document       show the current document
  /history        show the conversation
  /reset          clear the conversation
  /quit           exit
Anything else is sent as a prompt.`

// RunREPL reads prompts from in and streams replies to out until in is exhausted,
// the user types /quit, or ctx is done. Reply failures are printed and do not end the loop.
func RunREPL(ctx context.Context, c *Client, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	fmt.Fprintln(out, "Type /help for commands.")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := replCommand(ctx, c, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		if _, err := c.Chat(ctx, line, out); err != nil {
			if !errors.Is(err, ErrReplyFailed) {
				fmt.Fprintf(out, "error: %v", err)
			}
		}
		fmt.Fprintln(out)
	}
}

func replCommand(ctx context.Context, c *Client, line string, out io.Writer) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, replHelp)
	case "/reset":
		if err := c.Reset(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Conversation cleared.")
	case "/history":
		turns, err := c.History(ctx)
		if err != nil {
			return false, err
		}
		return false, WriteHistory(out, turns, OutputText)
	case "/document":
		doc, err := c.Document(ctx)
		if err != nil {
			return false, err
		}
		return false, WriteDocument(out, doc, OutputText)
	case "/upload":
		if arg == "" {
			return false, errors.New("usage: /upload <path>")
		}
		resp, err := c.Upload(ctx, arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%s (%d characters)\n", resp.Message, resp.Length)
	default:
		return false, fmt.Errorf("unknown command %s; type /help", cmd)
	}
	return false, nil
}
