// Package dispatch routes named operations to capability providers.
//
// Each operation is declared in a Catalog with the capability that serves
// it and optional default parameters. Dispatch prefers a provider held in
// process and falls back to the capability's network endpoint when the
// direct call fails or no provider is held. Network failures surface as
// *TransportError values whose Kind matches one of the transport
// sentinels with errors.Is.
//
// Observers registered on the Dispatcher see every completed call; the
// audit ledger and Prometheus collectors hook in this way.
package dispatch
