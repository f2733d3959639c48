package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/spotter/internal/sse"
	"golang.org/x/term"
)

func newChatCmd() *cobra.Command {
	var opts chatOpts

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running Spotter API from the terminal",
		Long: `Opens (or resumes) a conversation and streams each reply as it is generated.
Lines are read from stdin; /quit or EOF ends the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.in = cmd.InOrStdin()
			opts.out = cmd.OutOrStdout()
			opts.client = http.DefaultClient
			if f, ok := opts.in.(*os.File); ok {
				opts.interactive = term.IsTerminal(int(f.Fd()))
			}
			return runChat(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "Spotter API base URL")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "user ID sent as X-User-ID (required)")
	cmd.Flags().StringVar(&opts.conversation, "conversation", "", "resume an existing conversation")
	cmd.MarkFlagRequired("user")
	return cmd
}

type chatOpts struct {
	baseURL      string
	user         string
	conversation string
	client       *http.Client
	in           io.Reader
	out          io.Writer
	interactive  bool
}

func runChat(ctx context.Context, opts chatOpts) error {
	opts.baseURL = strings.TrimRight(opts.baseURL, "/")
	if opts.conversation == "" {
		id, err := createConversation(ctx, opts)
		if err != nil {
			return err
		}
		opts.conversation = id
	}
	fmt.Fprintf(opts.out, "Conversation %s\n", opts.conversation)

	sc := bufio.NewScanner(opts.in)
	for {
		if opts.interactive {
			fmt.Fprint(opts.out, "you> ")
		}
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		if err := streamTurn(ctx, opts, line); err != nil {
			return err
		}
	}
}

func (o chatOpts) request(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-ID", o.user)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func createConversation(ctx context.Context, opts chatOpts) (string, error) {
	req, err := opts.request(ctx, http.MethodPost, "/api/conversations", nil)
	if err != nil {
		return "", err
	}
	resp, err := opts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create conversation: %s", apiError(resp))
	}
	var conv struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return conv.ID, nil
}

// streamTurn sends one user message and renders the reply stream.
func streamTurn(ctx context.Context, opts chatOpts, text string) error {
	req, err := opts.request(ctx, http.MethodPost, "/api/conversations/"+opts.conversation+"/turns", map[string]string{"text": text})
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := opts.client.Do(req)
	if err != nil {
		return fmt.Errorf("send turn: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(opts.out, "error: %s\n", apiError(resp))
		return nil
	}

	rd := &renderer{out: opts.out, interactive: opts.interactive}
	frames := sse.NewReader(resp.Body)
	for {
		f, err := frames.Next()
		if err == io.EOF {
			rd.endLine()
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		if rd.render(f) {
			return nil
		}
	}
}

// renderer prints stream events for a human reader.
type renderer struct {
	out         io.Writer
	interactive bool
	midLine     bool
	progress    bool
}

// render prints f and reports whether the stream is finished.
func (r *renderer) render(f sse.Frame) bool {
	switch f.Event {
	case sse.EventTextDelta:
		var e sse.TextDelta
		if decodeFrame(f, &e) {
			r.clearProgress()
			if !r.midLine {
				fmt.Fprint(r.out, "spotter> ")
			}
			fmt.Fprint(r.out, e.Text)
			r.midLine = true
		}
	case sse.EventTextDone:
		r.endLine()
	case sse.EventToolProgress:
		var e sse.ToolProgress
		if decodeFrame(f, &e) && r.interactive {
			r.endLine()
			fmt.Fprintf(r.out, "\r\033[K  … %s: %s", e.Tool, e.Label)
			r.progress = true
		}
	case sse.EventToolResult:
		var e sse.ToolResult
		if decodeFrame(f, &e) {
			r.clearProgress()
			r.endLine()
			switch {
			case !e.Success:
				fmt.Fprintf(r.out, "  [%s] failed: %s\n", e.Tool, e.Error)
			case e.Status != "":
				fmt.Fprintf(r.out, "  [%s] %s (message %d)\n", e.Tool, e.Status, e.MessageID)
			default:
				fmt.Fprintf(r.out, "  [%s] ok\n", e.Tool)
			}
		}
	case sse.EventDone:
		r.clearProgress()
		r.endLine()
		return true
	case sse.EventError:
		var e sse.Error
		r.clearProgress()
		r.endLine()
		if decodeFrame(f, &e) {
			fmt.Fprintf(r.out, "error: %s: %s\n", e.Code, e.Message)
		}
		return true
	}
	return false
}

func (r *renderer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

func (r *renderer) clearProgress() {
	if r.progress {
		fmt.Fprint(r.out, "\r\033[K")
		r.progress = false
	}
}

func decodeFrame(f sse.Frame, v any) bool {
	return json.Unmarshal([]byte(f.Data), v) == nil
}

func apiError(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Sprintf("%s (%d)", body.Error, resp.StatusCode)
	}
	return resp.Status
}
