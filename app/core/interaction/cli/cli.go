// Package cli is the local stdin/stdout channel, mainly for manual
// testing without a Telegram token.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/types"
)

// localUserID identifies the single CLI user in the store.
const localUserID int64 = 1

type CLIChannel struct {
	id     string
	userID int64
}

func NewCLIChannel(userID int64) *CLIChannel {
	if userID == 0 {
		userID = localUserID
	}
	return &CLIChannel{id: "cli", userID: userID}
}

func (c *CLIChannel) ID() string {
	return c.id
}

func (c *CLIChannel) Start(ctx context.Context, handler func(types.Message)) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(">> Tasker CLI started. Type 'exit' to quit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Print("> ")
			if !scanner.Scan() {
				return nil
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "exit" || text == "quit" {
				fmt.Println("Exiting CLI loop...")
				return nil
			}

			handler(types.Message{
				ID:        fmt.Sprintf("cli-%d", time.Now().UnixNano()),
				Text:      text,
				Role:      types.MessageRoleUser,
				ChannelID: c.id,
				UserID:    c.userID,
				ChatID:    c.userID,
			})
		}
	}
}

func (c *CLIChannel) Send(_ context.Context, msg types.Message) error {
	fmt.Printf("[Tasker]: %s\n", msg.Text)
	return nil
}
