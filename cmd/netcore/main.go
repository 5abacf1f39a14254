package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dustin/go-humanize"

	"netcore/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	var cfgPath, mode, addr string
	flag.StringVar(&cfgPath, "config", "./netcore.yaml", "path to config (json or yaml)")
	flag.StringVar(&mode, "mode", string(app.ModeServe), "serve (chat server) or dial (client)")
	flag.StringVar(&addr, "addr", "", "host:port overriding the configured address")
	flag.Parse()

	opts := app.Options{Mode: app.Mode(mode), Addr: addr}
	var cl *client
	switch opts.Mode {
	case app.ModeServe:
		opts.ServerHooks = newChatRoom().hooks
	case app.ModeDial:
		cl = newClient(os.Stdout)
		opts.ClientHooks = cl
	}

	a, err := app.New(cfgPath, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(a, app.StopFatalError)
		return 1
	}
	notify(daemon.SdNotifyReady)
	go watchdog(a.Done())

	stdinDone := make(chan struct{})
	if cl != nil {
		go func() {
			defer close(stdinDone)
			if err := forwardStdin(os.Stdin, a.Send, os.Stderr); err != nil {
				fmt.Fprintln(os.Stderr, "stdin:", err)
			}
		}()
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopSIGTERM
		if s == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopPeerClosed
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-stdinDone:
		reason = app.StopAppStop
	}

	notify(daemon.SdNotifyStopping)
	stop(a, reason)

	if cl != nil {
		if c := a.Connector(); c != nil {
			st := c.Stats()
			fmt.Printf("sent %s, received %s\n", humanize.Bytes(st.BytesOut), humanize.Bytes(st.BytesIn))
		}
	}
	if reason == app.StopFatalError {
		fmt.Fprintln(os.Stderr, "fatal:", a.Err())
		return 1
	}
	return 0
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
}

// notify is a no-op outside systemd.
func notify(state string) {
	_, _ = daemon.SdNotify(false, state)
}

// watchdog pings the systemd watchdog at half its interval until done.
func watchdog(done <-chan struct{}) {
	iv, err := daemon.SdWatchdogEnabled(false)
	if err != nil || iv <= 0 {
		return
	}
	t := time.NewTicker(iv / 2)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			notify(daemon.SdNotifyWatchdog)
		}
	}
}
