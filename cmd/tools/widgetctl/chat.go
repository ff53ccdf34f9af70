package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/troikatech/chatwidget/internal/gateway"
	"github.com/troikatech/chatwidget/internal/model/chat"
	widgetservice "github.com/troikatech/chatwidget/internal/service/widget"
)

func newChatCommand() *cobra.Command {
	var (
		projectID string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a project's bot through a terminal widget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := gateway.New(gateway.Options{
				BaseURL:           cfg.Gateway.BaseURL,
				Timeout:           cfg.Gateway.Timeout,
				RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
				Burst:             cfg.Gateway.Burst,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			w, err := widgetservice.Mount(ctx, widgetservice.Options{
				ProjectID:        projectID,
				Gateway:          client,
				TypingDelay:      cfg.Widget.TypingDelay,
				ReleaseLockEarly: !cfg.Widget.HoldSendLock,
			})
			if err != nil {
				return err
			}
			defer w.Close()

			return runChat(ctx, w, cmd.InOrStdin(), cmd.OutOrStdout(), timeout)
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id")
	cmd.Flags().DurationVar(&timeout, "timeout", 45*time.Second, "per-request timeout")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// runChat opens the session, then sends one message per input line until
// EOF or "/quit". Bot replies are printed as they appear.
func runChat(ctx context.Context, w *widgetservice.Widget, in io.Reader, out io.Writer, timeout time.Duration) error {
	unsubscribe := w.Subscribe(func(ev chat.Event) {
		switch ev.Type {
		case chat.EventMessage:
			if ev.Message.Sender == chat.SenderBot {
				fmt.Fprintf(out, "bot> %s\n", ev.Message.Text)
				for _, src := range ev.Message.SourceTags() {
					fmt.Fprintf(out, "     [%s]\n", src)
				}
			}
		case chat.EventError:
			if ev.Error != "" {
				fmt.Fprintf(out, "!! %s\n", ev.Error)
			}
		}
	})
	defer unsubscribe()

	openCtx, cancel := context.WithTimeout(ctx, timeout)
	err := w.Open(openCtx)
	cancel()
	if err != nil {
		return err
	}

	defer func() {
		endCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = w.End(endCtx)
	}()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			return nil
		}

		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		reply, err := w.Send(sendCtx, line)
		if err != nil {
			cancel()
			if kind, msg := widgetservice.Classify(err); kind != widgetservice.KindSend {
				fmt.Fprintf(out, "!! %s\n", msg)
			}
			continue
		}
		_, _ = reply.Wait(sendCtx)
		cancel()
	}
}
