package signalpipe

import (
	"os"
	"os/signal"
)

type std struct{}

func (std) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

func (std) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}
