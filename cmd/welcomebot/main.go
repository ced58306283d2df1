// Command welcomebot tracks which member-join messages in a Discord welcome
// channel have received a welcome reply.
//
//	welcomebot serve        run the bot, the operator API and the scheduler
//	welcomebot refresh      scan once
//	welcomebot unwelcomed   print links to unwelcomed joins
//	welcomebot stats        print store counters
package main

import (
	"os"

	"github.com/tbourn/welcome-tracker/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
