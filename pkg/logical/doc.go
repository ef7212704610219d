// Package logical implements the LOOM protocol core: the per-node
// dispatcher that demultiplexes incoming logical packets to hosted
// devices by port, the device capability contract, the packet builder
// that preallocates outgoing packets from the node's pool (looping them
// back when the destination is the local node), and the per-device
// subscription engine with expiry and periodic fan-out.
//
// The whole package is single-threaded by design: the hosting node runs
// one event loop that interleaves mesh receive callbacks and periodic
// ticks, and every operation runs to completion. Nothing here locks.
package logical
