// Command regform serves the registration form over HTTP and WebSocket.
package main

import (
	"context"
	"os"

	"github.com/dalemusser/regform/app"
)

func main() {
	if err := app.Run(context.Background()); err != nil {
		os.Exit(1)
	}
}
