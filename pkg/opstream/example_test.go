package opstream_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/opstream/pkg/opstream"
)

// ExampleNew shows the minimum configuration of a stream.
func ExampleNew() {
	cfg := opstream.DefaultConfig()
	cfg.ServiceURL = "ws://localhost:3000/socket"
	cfg.StorageURL = "http://localhost:3001"
	cfg.TenantID = "fluid"
	cfg.DocumentID = "example"
	cfg.TenantKey = "dev-key"

	s, err := opstream.New(cfg)
	if err != nil {
		fmt.Printf("failed to create stream: %v\n", err)
		return
	}
	defer s.Close()

	fmt.Println(s.State())
	// Output: Disconnected
}

// ExampleNew_invalidConfig shows configuration errors.
func ExampleNew_invalidConfig() {
	_, err := opstream.New(opstream.Config{TenantID: "fluid"})
	fmt.Println(errors.Is(err, opstream.ErrInvalidConfig))
	// Output: true
}

// Example_withEventHandler shows how to observe a stream.
func Example_withEventHandler() {
	cfg := opstream.DefaultConfig()
	cfg.ServiceURL = "ws://localhost:3000/socket"
	cfg.StorageURL = "http://localhost:3001"
	cfg.TenantID = "fluid"
	cfg.DocumentID = "example"
	cfg.TenantKey = "dev-key"

	s, err := opstream.New(cfg, opstream.WithEventHandler(func(ev opstream.Event) {
		switch e := ev.(type) {
		case opstream.ConnectEvent:
			fmt.Printf("connected as %s\n", e.Details.ClientID)
		case opstream.ErrorEvent:
			fmt.Printf("error: %v\n", e.Err)
		}
	}))
	if err != nil {
		fmt.Printf("failed to create stream: %v\n", err)
		return
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = s.Connect(ctx, opstream.ConnectOptions{})
}
