// Command imctl is a command-line client for the instant-messaging backend.
//
//	imctl --user alice chats
//	imctl --user alice send <chatID> "hello"
//	imctl --user alice listen
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
