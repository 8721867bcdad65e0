// Package cablelink runs GraphQL operations over an ActionCable-style channel
// socket and exposes them as cancellable streams.
//
// Every operation gets its own channel subscription on one shared websocket:
// the client subscribes, waits for the server to confirm the channel, sends
// the operation and relays result frames until one arrives without the
// continuation flag. Connection health is published through a Broadcaster:
//
//   - Execute: route an operation (subscriptions over the cable)
//   - Subscribe: run an operation over the cable
//   - OnStateChange / State: observe the connection
//   - Reconnect: rebuild the connection after a token change
//
// Basic usage:
//
//	client, err := cablelink.NewClient(cablelink.Config{
//	    URL: "wss://api.example.com/cable",
//	}, cablelink.WithTokenProvider(session.Token))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	sub := client.Execute(cablelink.Operation{
//	    Query: `subscription { assessmentUpdated { id progress } }`,
//	}).Subscribe(cablelink.Observer{
//	    Next:  func(r *cablelink.Result) { fmt.Println(string(r.Data)) },
//	    Error: func(err error) { log.Println(err) },
//	})
//	defer sub.Unsubscribe()
//
// There is no automatic retry: a rejected channel or a failed dial ends the
// affected streams, and recovery is an explicit Reconnect.
package cablelink
