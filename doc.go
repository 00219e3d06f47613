// Package rabbitout publishes events to a RabbitMQ exchange and keeps doing
// so across broker failures.
//
// A Publisher holds one connection to one of the configured hosts. When the
// connection or a channel fails, it moves to the next host, declares the
// exchange again and resends the message that failed, waiting the configured
// retry interval between attempts. Publish calls block until the message is
// accepted; only Close or the caller's context stops them.
//
// Basic usage:
//
//	cfg, err := config.Load("rabbitout.yml", os.LookupEnv)
//	if err != nil {
//		log.Fatal(err)
//	}
//	pub, err := rabbitout.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pub.Close()
//
//	err = pub.Receive(ctx, event.Record{"type": "access", "status": 200})
//
// Concurrent producers should each use their own Worker:
//
//	w := pub.NewWorker()
//	defer w.Close()
//	err = w.Publish(ctx, record, body)
package rabbitout
