// Command triacctl sends one control command to a running triacd.
//
// Usage mirrors the board's original command set:
//
//	triacctl -c 4 -f -t 5000 -p 110    fade channel 4 to 110deg over 5s
//	triacctl -c 1 -p 110 -n 30         channel 1 asymmetric 110/30deg
//	triacctl -c 2                      turn channel 2 off
//	triacctl --frequency               read the measured mains frequency
package main

import (
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/openindoor/triacd/config"
	"github.com/openindoor/triacd/ipc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "triacctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	channel := flag.IntP("channel", "c", 0, "TRIAC channel (1-4)")
	fade := flag.BoolP("fade", "f", false, "fade to the target angles")
	fadeTime := flag.IntP("time", "t", 0, "fade duration in milliseconds")
	pos := flag.IntP("positive", "p", 0, "positive half-cycle conduction angle (0-180)")
	neg := flag.IntP("negative", "n", -1, "negative half-cycle conduction angle (defaults to positive)")
	freq := flag.Bool("frequency", false, "print the measured mains frequency")
	status := flag.Bool("status", false, "print the channel state")
	socket := flag.String("socket", config.DefaultSocket, "daemon control socket")
	flag.Parse()

	c, err := ipc.Dial(*socket)
	if err != nil {
		return err
	}
	defer c.Close()

	if *freq {
		text, err := c.Frequency()
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	}

	if *channel == 0 {
		flag.Usage()
		return errors.New("must define channel: -c [1-4]")
	}

	if *status {
		text, err := c.ChannelStatus(*channel)
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	}

	if *neg < 0 {
		*neg = *pos
	}
	return c.Set(ipc.Request{
		Channel: *channel,
		Fade:    *fade,
		TimeMS:  *fadeTime,
		Pos:     *pos,
		Neg:     *neg,
	})
}
