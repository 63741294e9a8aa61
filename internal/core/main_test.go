package core

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

// TestMain lets the test binary stand in for the proxy core: when
// ROUTE_FAKE_CORE is set the process behaves as a core instead of running
// tests. ROUTE_FAKE_PARENT makes it a route-cli stand-in that starts a fake
// core and then idles until it is killed.
func TestMain(m *testing.M) {
	if cfg := os.Getenv("ROUTE_FAKE_PARENT"); cfg != "" {
		os.Exit(fakeParent(cfg))
	}
	if mode := os.Getenv("ROUTE_FAKE_CORE"); mode != "" {
		os.Exit(fakeCore(mode))
	}
	os.Exit(m.Run())
}

func fakeParent(cfg string) int {
	exe, err := os.Executable()
	if err != nil {
		return 2
	}
	os.Unsetenv("ROUTE_FAKE_PARENT")
	os.Setenv("ROUTE_FAKE_CORE", "listen")
	m := &Manager{
		Resolver:     Resolver{Configured: exe},
		ListenAddr:   os.Getenv("ROUTE_FAKE_ADDR"),
		StartTimeout: 5 * time.Second,
	}
	if err := m.Start(context.Background(), cfg); err != nil {
		return 3
	}
	os.Stdout.WriteString("ready\n")
	time.Sleep(time.Minute)
	m.Stop()
	return 0
}

func fakeCore(mode string) int {
	args := os.Args[1:]
	if len(args) != 3 || args[0] != "run" || args[1] != "-c" {
		return 2
	}
	if _, err := os.Stat(args[2]); err != nil {
		return 2
	}

	switch mode {
	case "exit":
		return 3
	case "silent":
		time.Sleep(time.Minute)
		return 0
	}

	ln, err := net.Listen("tcp", os.Getenv("ROUTE_FAKE_ADDR"))
	if err != nil {
		return 4
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	if mode == "stubborn" {
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Minute)
		return 0
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, os.Interrupt)
	select {
	case <-ch:
	case <-time.After(time.Minute):
	}
	ln.Close()
	return 0
}
