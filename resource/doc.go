// Package resource bounds the resources used by index commits and loads.
//
// A Controller provides three independent limits:
//
//   - commit worker slots, so large serializations run on a bounded pool
//     separate from request handling;
//   - an upload throughput cap applied through RateLimitedReader;
//   - a memory budget shared by blob caches.
//
// All methods are safe on a nil *Controller, which imposes no limits.
package resource
