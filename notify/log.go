package notify

import (
	"context"
	"log"
)

// LogGateway writes every message to a logger. It is meant for local
// development.
type LogGateway struct {
	Channel string
	Logger  *log.Logger
}

func (g LogGateway) Send(_ context.Context, destination, message string) error {
	l := g.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("notify: %s to %s: %s", g.Channel, destination, message)
	return nil
}
