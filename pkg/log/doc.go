/*
Package log provides structured logging for netledger using zerolog.

A single package-level Logger is configured once with Init. Packages derive
child loggers carrying their own fields:

	log.WithComponent("ledger")          component=ledger
	log.WithNodeID("node-1")             node_id=node-1
	log.WithTxID(l, tx.ID())             tx_id=...
	log.WithConsumer(l, "tunnel-7")      consumer=tunnel-7

# Levels

  - debug: refused ledger requests and the reason (already allocated,
    insufficient capacity, conflict, ...)
  - info: raft lifecycle, server start and stop, applied inventories
  - warn: recoverable problems such as a failed snapshot
  - error: storage and transport errors returned to callers

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	logger := log.WithComponent("manager")
	logger.Info().Str("addr", bindAddr).Msg("raft started")

Console output (JSONOutput false) is meant for interactive use of the CLI;
JSON output is meant for servers whose logs are collected.
*/
package log
