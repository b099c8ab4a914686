// Package redis implements a shared fleet ledger in Redis. The controller
// launches and cancels dispatches by writing records; external workers
// read their assignments from the ledger and call Complete when they
// finish, releasing the capacity they held.
//
// Capacity checks and bookkeeping run as Lua scripts so a launch that
// races another writer either commits fully or is rejected with
// volley.ErrInsufficientCapacity. Dispatch records are msgpack-encoded.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	ledger := redisfleet.New(client, redisfleet.WithCosts(costs))
//	if err := ledger.RegisterNode(ctx, "node-1", 64); err != nil { ... }
package redis
