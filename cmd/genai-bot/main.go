// Command genai-bot runs the chat bot and registers its slash commands.
package main

import (
	"context"
	"os"

	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
