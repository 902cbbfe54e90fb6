// Package orderbook implements the per-symbol limit order book and its
// crossing algorithm under price-time priority.
//
// Resting orders live in an arena of slots addressed by stable indices.
// Each price level is a FIFO of slot indices, each side keeps its levels in
// a red-black tree plus a price map, and an id index makes cancel and
// modify O(1) lookups. The book is single-writer and does no locking.
package orderbook
