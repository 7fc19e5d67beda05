// Package itemstore is a reactive, client-side cache of server-backed items
// with a batching request scheduler.
//
// A Store holds one record per item id: committed data, the last error, a
// pending local edit with the optimistic value it produces, and staleness
// markers. Consumers read synchronously (GetItem, GetItemInfo), subscribe to
// value or metadata changes (ListenToItem, ListenToItemInfo), and mutate
// (UpdateItem, CreateItem, DeleteItem). All I/O goes through an Adapter whose
// optional fields declare what the backend can do; the scheduler drains
// pending work one adapter call per turn, in the order create, write,
// delete, read, batching where the adapter allows it.
//
// Staleness:
//
//	outdated      a read is wanted for this record
//	tick          the store-wide generation; OutdateAll bumps it and every
//	              record written under an older tick is lazily stale
//	current       data present, not outdated, tick matches
//
// Fetch resolves the items a computation depends on, re-running it as
// dependencies arrive. Lease keeps the subscriptions of a computation and
// swaps them on every Capture.
//
// A Store is not safe for concurrent use. Drive it from one goroutine; with
// the default Queue, scheduler turns run when the outermost Store call
// returns. Hosts whose adapters complete on other goroutines run the store
// inside a Loop:
//
//	loop := itemstore.NewLoop()
//	go loop.Run(ctx)
//	backend, _ := kv.New(kv.Config[Note]{
//	    Namespace: "notes",
//	    Provider:  p,
//	    Codec:     codec.JSON[Note]{},
//	    Deliver:   loop,
//	})
//	loop.Post(func() {
//	    store, _ := itemstore.New(itemstore.Options[Note, Patch]{
//	        Adapter: kv.Bind[Note, Patch](backend, itemstore.Transforms[Note, Patch]{}),
//	        Queue:   loop,
//	    })
//	    _ = store.WaitForItem("n1", func() { ... })
//	})
package itemstore
