package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stockwatch/internal/notify"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through every configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			dispatcher, err := ctx.openDispatcher()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(dispatcher.Channels()) == 0 {
				fmt.Fprintln(out, "No notification channels configured")
				return nil
			}

			result := dispatcher.Deliver(cmd.Context(), notify.TestEvent(time.Now()))
			colorize := shouldColorize(out)
			failed := 0
			for _, ch := range result.Channels {
				if ch.Delivered {
					fmt.Fprintln(out, renderStatusLine(ch.Channel, statusOK, fmt.Sprintf("sent (%d attempt(s))", ch.Attempts), colorize))
					continue
				}
				failed++
				detail := "not sent"
				if ch.Err != nil {
					detail = ch.Err.Error()
				}
				fmt.Fprintln(out, renderStatusLine(ch.Channel, statusError, detail, colorize))
			}
			if failed > 0 {
				return errors.New("test notification failed on one or more channels")
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
}
