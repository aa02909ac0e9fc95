// Command vaultserver runs the record vault API. In dev mode it stands up
// everything in-process: an in-memory ledger, a file blob store and a local
// threshold key-server pool. Against a real deployment it binds the onchain
// record registry over RPC and whatever storage backends the location URIs
// name.
package main
