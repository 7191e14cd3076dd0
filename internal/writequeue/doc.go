// Package writequeue serializes background writes onto a single goroutine.
//
// Items are buffered in a channel and run in submission order. Enqueue
// blocks while the buffer is full; TryEnqueue drops the item instead and
// counts the drop. A failing or panicking item is logged and counted and the
// writer moves on.
//
//	q := writequeue.New(256, logger)
//	defer q.Close(ctx)
//
//	_ = q.TryEnqueue(writequeue.Item{
//	    Name: "usage",
//	    Run: func(ctx context.Context) error {
//	        return store.InsertUsage(ctx, rec)
//	    },
//	})
package writequeue
