// Package opstream provides an embeddable client for the delta stream of a
// collaborative document.
//
// A [Stream] keeps a live connection to the ordering service, catches up
// from delta storage whenever it detects a gap, and hands every sequenced
// op to a [Handler] exactly once and in order.
//
// # Basic Usage
//
//	cfg := opstream.DefaultConfig()
//	cfg.ServiceURL = "ws://localhost:3000/socket"
//	cfg.StorageURL = "http://localhost:3001"
//	cfg.TenantID = "fluid"
//	cfg.DocumentID = "my-doc"
//	cfg.TenantKey = "dev-key"
//
//	s, err := opstream.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	if err := s.AttachHandler(0, 0, handler); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := s.Connect(ctx, opstream.ConnectOptions{}); err != nil {
//	    log.Fatal(err)
//	}
//
// # Events
//
// Observers registered with [WithEventHandler] or [Stream.Subscribe] receive
// connection and processing events in order on a dedicated goroutine. The
// closed event is always the last one.
//
// # Archive
//
// With [Config.ArchivePath] set, processed ops are archived in SQLite and
// catch-up reads are served from the archive before remote storage.
package opstream
